package vesting

import (
	"context"
	"errors"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/idhash"
	"solana-token-vesting/internal/storage"
)

// emit delivers a committed event to the audit store and the live feed.
// Delivery is best-effort: the record is authoritative and already committed.
func (e *Engine) emit(ctx context.Context, ev *domain.VestingEvent) {
	ev.EventID = idhash.ComputeEventID(ev.Type, ev.Receiver, ev.Mint, ev.ReleasedAmount, ev.Amount)

	if e.events != nil {
		if err := e.events.Insert(ctx, ev); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			e.metrics.RecordEventSinkError("store")
			e.logger.Printf("store event %s: %v", ev.EventID, err)
		}
	}

	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

// Events returns the audit trail of a record, oldest first.
func (e *Engine) Events(ctx context.Context, receiver, mint string) ([]*domain.VestingEvent, error) {
	if e.events == nil {
		return nil, ErrEventsDisabled
	}
	return e.events.GetByRecord(ctx, receiver, mint)
}
