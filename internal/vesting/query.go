package vesting

import (
	"context"
	"errors"
	"fmt"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/schedule"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
	"solana-token-vesting/internal/token"
)

// Status summarizes where a record is in its schedule.
type Status string

const (
	StatusPending     Status = "PENDING"      // now <= start_time
	StatusVesting     Status = "VESTING"      // releases outstanding
	StatusFullyVested Status = "FULLY_VESTED" // released_amount == total_amount
)

// Preview is a read-only view of what Unlock would do at At.
type Preview struct {
	Record        *domain.VestingRecord
	At            int64
	Status        Status
	Entitled      uint64
	Releasable    uint64
	NextReleaseAt int64 // 0 when nothing further will vest
}

// GetRecord returns the record for (receiver, mint).
func (e *Engine) GetRecord(ctx context.Context, receiver, mint solana.PublicKey) (*domain.VestingRecord, error) {
	rec, err := e.ledger.GetRecord(ctx, receiver.String(), mint.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// ListByReceiver returns all records of a receiver ordered by start time.
func (e *Engine) ListByReceiver(ctx context.Context, receiver solana.PublicKey) ([]*domain.VestingRecord, error) {
	return e.ledger.GetRecordsByReceiver(ctx, receiver.String())
}

// ListByMint returns all records of a mint ordered by start time.
func (e *Engine) ListByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.VestingRecord, error) {
	return e.ledger.GetRecordsByMint(ctx, mint.String())
}

// Preview computes entitlement and releasable amount at the current clock
// reading without changing state.
func (e *Engine) Preview(ctx context.Context, receiver, mint solana.PublicKey) (*Preview, error) {
	rec, err := e.GetRecord(ctx, receiver, mint)
	if err != nil {
		return nil, err
	}
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Record:        rec,
		At:            now,
		Entitled:      schedule.EntitledToDate(rec, now),
		Releasable:    schedule.Releasable(rec, now),
		NextReleaseAt: schedule.NextReleaseAt(rec, now),
	}
	switch {
	case rec.IsFullyVested():
		p.Status = StatusFullyVested
		p.Releasable = 0
	case now <= rec.StartTime:
		p.Status = StatusPending
		p.Releasable = 0
	default:
		p.Status = StatusVesting
	}
	return p, nil
}

// Custody derives the custody authority for (mint, receiver) under the
// configured scope. Receiver is ignored for per-mint custody.
func (e *Engine) Custody(mint, receiver solana.PublicKey) (custody.Authority, error) {
	return e.deriver.Vault(mint, receiver)
}

// Account returns a token account by address.
func (e *Engine) Account(ctx context.Context, address string) (*domain.TokenAccount, error) {
	acc, err := e.ledger.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", token.ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// Mint returns a mint by address.
func (e *Engine) Mint(ctx context.Context, mint solana.PublicKey) (*domain.Mint, error) {
	m, err := e.ledger.GetMint(ctx, mint.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", token.ErrMintNotFound, mint)
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}
	return m, nil
}

// CustodyScope returns the scope custody authorities are derived under.
func (e *Engine) CustodyScope() custody.Scope {
	return e.deriver.Scope()
}
