package memory

import (
	"context"
	"sort"
	"sync"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/storage"
)

// VestingEventStore is an in-memory implementation of storage.EventStore.
type VestingEventStore struct {
	mu   sync.RWMutex
	data []*domain.VestingEvent
	keys map[string]bool // event_id
}

// NewVestingEventStore creates a new in-memory vesting event store.
func NewVestingEventStore() *VestingEventStore {
	return &VestingEventStore{
		data: make([]*domain.VestingEvent, 0),
		keys: make(map[string]bool),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *VestingEventStore) Insert(_ context.Context, e *domain.VestingEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[e.EventID] {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data = append(s.data, &copy)
	s.keys[e.EventID] = true

	return nil
}

// GetByRecord retrieves all events of a record, ordered by (timestamp, released_amount) ASC.
func (s *VestingEventStore) GetByRecord(_ context.Context, receiver, mint string) ([]*domain.VestingEvent, error) {
	return s.filter(func(e *domain.VestingEvent) bool {
		return e.Receiver == receiver && e.Mint == mint
	}), nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *VestingEventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.VestingEvent, error) {
	return s.filter(func(e *domain.VestingEvent) bool {
		return e.Timestamp >= start && e.Timestamp <= end
	}), nil
}

func (s *VestingEventStore) filter(match func(*domain.VestingEvent) bool) []*domain.VestingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VestingEvent
	for _, e := range s.data {
		if match(e) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ReleasedAmount < result[j].ReleasedAmount
	})

	return result
}

var _ storage.EventStore = (*VestingEventStore)(nil)
