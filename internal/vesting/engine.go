// Package vesting implements escrow-based token vesting: Lock moves a deposit
// into a custody account controlled by a derived authority and records its
// schedule; Unlock releases whatever the schedule has made available since
// the last release.
package vesting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/observability"
	"solana-token-vesting/internal/schedule"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
	"solana-token-vesting/internal/token"
)

const defaultMaxConflictRetries = 3

// Publisher receives committed vesting events, e.g. a websocket hub.
type Publisher interface {
	Publish(e *domain.VestingEvent)
}

// Engine executes vesting operations against a transactional ledger.
type Engine struct {
	ledger       storage.Ledger
	events       storage.EventStore
	publisher    Publisher
	deriver      *custody.Deriver
	program      *token.Program
	clock        Clock
	defaultShape domain.ScheduleShape
	maxRetries   int
	locks        *keyedMutex
	logger       *log.Logger
	metrics      *observability.Metrics
}

// Options contains configuration for creating an Engine.
type Options struct {
	Ledger    storage.Ledger     // required
	Deriver   *custody.Deriver   // required
	Events    storage.EventStore // optional audit sink
	Publisher Publisher          // optional live feed
	Program   *token.Program
	Clock     Clock

	// DefaultShape applies when a LockRequest leaves Shape empty.
	DefaultShape domain.ScheduleShape

	// MaxConflictRetries bounds re-runs of a transaction that lost a race.
	MaxConflictRetries int

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// NewEngine creates a new vesting engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("vesting: ledger is required")
	}
	if opts.Deriver == nil {
		return nil, errors.New("vesting: custody deriver is required")
	}

	shape := opts.DefaultShape
	if shape == "" {
		shape = domain.ShapeSteppedWeekly
	}
	if !shape.IsValid() {
		return nil, fmt.Errorf("vesting: %w: %q", ErrInvalidShape, shape)
	}

	program := opts.Program
	if program == nil {
		program = token.NewProgram()
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	retries := opts.MaxConflictRetries
	if retries <= 0 {
		retries = defaultMaxConflictRetries
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		ledger:       opts.Ledger,
		events:       opts.Events,
		publisher:    opts.Publisher,
		deriver:      opts.Deriver,
		program:      program,
		clock:        clock,
		defaultShape: shape,
		maxRetries:   retries,
		locks:        newKeyedMutex(),
		logger:       logger,
		metrics:      opts.Metrics,
	}, nil
}

// LockRequest describes a new vesting schedule.
type LockRequest struct {
	Depositor solana.PublicKey // authenticated signer funding the lock
	Receiver  solana.PublicKey
	Mint      solana.PublicKey
	Amount    uint64
	StartTime int64
	EndTime   int64
	Shape     domain.ScheduleShape // empty selects the engine default
}

// UnlockRequest asks for the currently releasable amount of one record.
// Caller may be anyone; funds always go to the receiver.
type UnlockRequest struct {
	Caller   solana.PublicKey
	Receiver solana.PublicKey
	Mint     solana.PublicKey
}

// UnlockResult describes a committed release.
type UnlockResult struct {
	Released      uint64 // amount transferred by this call
	ReleasedTotal uint64 // record's released_amount after the call
	Remaining     uint64 // still held in custody for the record
	Entitled      uint64 // entitlement-to-date at At
	At            int64  // clock reading the release was computed for
	Destination   string // receiver token account credited
}

// Lock validates the schedule, moves Amount from the depositor's associated
// token account into custody and creates the vesting record, atomically.
func (e *Engine) Lock(ctx context.Context, req LockRequest) (*domain.VestingRecord, error) {
	started := time.Now()
	rec, err := e.lock(ctx, req)
	e.observe("lock", started, err)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordLocked(rec.TotalAmount)
	e.logger.Printf("locked %d of %s for %s (%s, %d..%d)",
		rec.TotalAmount, rec.Mint, rec.Receiver, rec.Shape, rec.StartTime, rec.EndTime)

	e.emit(ctx, &domain.VestingEvent{
		Type:           domain.EventTypeLock,
		Receiver:       rec.Receiver,
		Mint:           rec.Mint,
		Signer:         rec.Depositor,
		Amount:         rec.TotalAmount,
		ReleasedAmount: rec.ReleasedAmount,
		TotalAmount:    rec.TotalAmount,
		Shape:          rec.Shape,
		Timestamp:      rec.CreatedAt,
	})
	return rec, nil
}

func (e *Engine) lock(ctx context.Context, req LockRequest) (*domain.VestingRecord, error) {
	shape := req.Shape
	if shape == "" {
		shape = e.defaultShape
	}
	if !shape.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidShape, shape)
	}
	if req.Depositor.IsZero() || req.Receiver.IsZero() || req.Mint.IsZero() {
		return nil, ErrInvalidAddress
	}
	if req.EndTime <= req.StartTime {
		return nil, ErrInvalidScheduleOrder
	}
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}

	var totalWeeks uint64
	if shape == domain.ShapeSteppedWeekly {
		totalWeeks = schedule.TotalWeeks(req.StartTime, req.EndTime)
		if totalWeeks == 0 {
			return nil, ErrScheduleTooShort
		}
	}

	vault, err := e.deriver.Vault(req.Mint, req.Receiver)
	if err != nil {
		return nil, err
	}
	recordAddr, err := e.deriver.RecordAddress(req.Receiver, req.Mint)
	if err != nil {
		return nil, err
	}
	source, err := solana.FindAssociatedTokenAddress(req.Depositor, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive depositor token account: %w", err)
	}

	receiver, mint := req.Receiver.String(), req.Mint.String()
	unlock := e.locks.Lock(receiver + "/" + mint)
	defer unlock()

	// The clock is read while holding the record.
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}

	var rec *domain.VestingRecord
	err = e.atomic(ctx, "lock", func(tx storage.Tx) error {
		if _, err := tx.GetRecordForUpdate(ctx, receiver, mint); err == nil {
			return ErrDuplicateSchedule
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load record: %w", err)
		}

		if _, err := e.program.GetMint(ctx, tx, req.Mint); err != nil {
			return err
		}

		custodyAcc, err := e.program.EnsureAccount(ctx, tx, vault.Address, req.Mint, vault.Address)
		if err != nil {
			return fmt.Errorf("custody account: %w", err)
		}

		err = e.program.Transfer(ctx, tx, token.TransferParams{
			From:      source.String(),
			To:        custodyAcc.Address,
			Authority: token.Wallet(req.Depositor),
			Amount:    req.Amount,
		})
		if err != nil {
			return fmt.Errorf("deposit: %w", err)
		}

		rec = &domain.VestingRecord{
			Address:     recordAddr.String(),
			Receiver:    receiver,
			Mint:        mint,
			Depositor:   req.Depositor.String(),
			Custody:     custodyAcc.Address,
			TotalAmount: req.Amount,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Shape:       shape,
			TotalWeeks:  totalWeeks,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return ErrDuplicateSchedule
			}
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Unlock releases the entitled but unreleased amount of a record to the
// receiver's associated token account, atomically.
func (e *Engine) Unlock(ctx context.Context, req UnlockRequest) (*UnlockResult, error) {
	started := time.Now()
	res, err := e.unlock(ctx, req)
	e.observe("unlock", started, err)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordReleased(res.Released, res.At)
	e.logger.Printf("released %d of %s to %s (%d/%d)",
		res.Released, req.Mint, req.Receiver, res.ReleasedTotal, res.ReleasedTotal+res.Remaining)

	e.emit(ctx, &domain.VestingEvent{
		Type:           domain.EventTypeRelease,
		Receiver:       req.Receiver.String(),
		Mint:           req.Mint.String(),
		Signer:         req.Caller.String(),
		Amount:         res.Released,
		ReleasedAmount: res.ReleasedTotal,
		TotalAmount:    res.ReleasedTotal + res.Remaining,
		Shape:          res.shape,
		Timestamp:      res.At,
	})
	return &res.UnlockResult, nil
}

type unlockOutcome struct {
	UnlockResult
	shape domain.ScheduleShape
}

func (e *Engine) unlock(ctx context.Context, req UnlockRequest) (*unlockOutcome, error) {
	if req.Receiver.IsZero() || req.Mint.IsZero() {
		return nil, ErrInvalidAddress
	}

	vault, err := e.deriver.Vault(req.Mint, req.Receiver)
	if err != nil {
		return nil, err
	}

	receiver, mint := req.Receiver.String(), req.Mint.String()
	unlock := e.locks.Lock(receiver + "/" + mint)
	defer unlock()

	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}

	var out *unlockOutcome
	err = e.atomic(ctx, "unlock", func(tx storage.Tx) error {
		rec, err := tx.GetRecordForUpdate(ctx, receiver, mint)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrScheduleNotFound
			}
			return fmt.Errorf("load record: %w", err)
		}

		if rec.IsFullyVested() {
			return ErrFullyVested
		}
		if now <= rec.StartTime {
			return ErrCliffNotPassed
		}

		entitled := schedule.EntitledToDate(rec, now)
		release := schedule.SaturatingSub(entitled, rec.ReleasedAmount)
		if release == 0 {
			return ErrNothingToRelease
		}

		if rec.Custody != vault.Address.String() {
			return fmt.Errorf("%w: record %s, derived %s", ErrCustodyMismatch, rec.Custody, vault.Address)
		}

		dest, err := e.program.EnsureAssociatedAccount(ctx, tx, req.Receiver, req.Mint)
		if err != nil {
			return fmt.Errorf("receiver account: %w", err)
		}

		err = e.program.Transfer(ctx, tx, token.TransferParams{
			From:      rec.Custody,
			To:        dest.Address,
			Authority: vault,
			Amount:    release,
		})
		if err != nil {
			return fmt.Errorf("release: %w", err)
		}

		released := rec.ReleasedAmount + release
		if err := tx.UpdateReleased(ctx, receiver, mint, rec.ReleasedAmount, released, now); err != nil {
			return fmt.Errorf("update record: %w", err)
		}

		out = &unlockOutcome{
			UnlockResult: UnlockResult{
				Released:      release,
				ReleasedTotal: released,
				Remaining:     rec.TotalAmount - released,
				Entitled:      entitled,
				At:            now,
				Destination:   dest.Address,
			},
			shape: rec.Shape,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// atomic runs fn in a ledger transaction, re-running it when it loses a race.
func (e *Engine) atomic(ctx context.Context, op string, fn func(tx storage.Tx) error) error {
	for attempt := 1; ; attempt++ {
		started := time.Now()
		err := e.ledger.Atomic(ctx, fn)
		e.metrics.RecordDBQuery("ledger", op, time.Since(started), internalOnly(err))

		if !errors.Is(err, storage.ErrConflict) || attempt > e.maxRetries {
			return err
		}
		e.metrics.RecordConflictRetry(op)
		e.logger.Printf("%s: concurrent modification, retrying (attempt %d/%d)", op, attempt, e.maxRetries)
	}
}

func (e *Engine) now(ctx context.Context) (int64, error) {
	now, err := e.clock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	return now, nil
}

func (e *Engine) observe(op string, started time.Time, err error) {
	class := Classify(err)
	e.metrics.RecordOperation(op, class.String(), time.Since(started))
	if class == ClassInternal || class == ClassTransfer {
		e.logger.Printf("%s failed: %v", op, err)
	}
}

// internalOnly hides expected domain outcomes from database error metrics.
func internalOnly(err error) error {
	if Classify(err) == ClassInternal {
		return err
	}
	return nil
}
