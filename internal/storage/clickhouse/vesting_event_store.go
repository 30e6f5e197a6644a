package clickhouse

import (
	"context"
	"fmt"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/storage"
)

// VestingEventStore implements storage.EventStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Insert checks event_id first.
type VestingEventStore struct {
	conn *Conn
}

// NewVestingEventStore creates a new VestingEventStore.
func NewVestingEventStore(conn *Conn) *VestingEventStore {
	return &VestingEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*VestingEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *VestingEventStore) Insert(ctx context.Context, e *domain.VestingEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO vesting_events (
			event_id, event_type, receiver, mint, signer,
			amount, released_amount, total_amount, shape, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.EventID, string(e.Type), e.Receiver, e.Mint, e.Signer,
		e.Amount, e.ReleasedAmount, e.TotalAmount, string(e.Shape), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRecord retrieves all events of a record, ordered by (timestamp, released_amount) ASC.
func (s *VestingEventStore) GetByRecord(ctx context.Context, receiver, mint string) ([]*domain.VestingEvent, error) {
	query := `
		SELECT event_id, event_type, receiver, mint, signer,
			amount, released_amount, total_amount, shape, timestamp
		FROM vesting_events FINAL
		WHERE receiver = ? AND mint = ?
		ORDER BY timestamp ASC, released_amount ASC
	`

	rows, err := s.conn.Query(ctx, query, receiver, mint)
	if err != nil {
		return nil, fmt.Errorf("query by record: %w", err)
	}
	defer rows.Close()

	return scanVestingEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *VestingEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.VestingEvent, error) {
	query := `
		SELECT event_id, event_type, receiver, mint, signer,
			amount, released_amount, total_amount, shape, timestamp
		FROM vesting_events FINAL
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, released_amount ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanVestingEvents(rows)
}

// exists checks if an event with the given id exists.
func (s *VestingEventStore) exists(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT count(*) FROM vesting_events WHERE event_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanVestingEvents scans multiple rows.
func scanVestingEvents(rows chRows) ([]*domain.VestingEvent, error) {
	var events []*domain.VestingEvent

	for rows.Next() {
		var e domain.VestingEvent
		var eventType, shape string

		err := rows.Scan(
			&e.EventID, &eventType, &e.Receiver, &e.Mint, &e.Signer,
			&e.Amount, &e.ReleasedAmount, &e.TotalAmount, &shape, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vesting event row: %w", err)
		}

		e.Type = domain.EventType(eventType)
		e.Shape = domain.ScheduleShape(shape)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vesting event rows: %w", err)
	}

	return events, nil
}
