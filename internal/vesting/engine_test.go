package vesting

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/observability"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
	"solana-token-vesting/internal/storage/memory"
	"solana-token-vesting/internal/token"
)

const (
	week = int64(domain.SecondsPerWeek)
	t0   = int64(1_700_000_000)
)

var programID = solana.MustPublicKey("6xmFVPfyjJXSw4ouJRbPLrDtbbwRMRSiRdrNyckW9ZxN")

func testKey(t *testing.T, b byte) solana.PublicKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	seed[1] = 0x5e
	pk, err := solana.PublicKeyFromEd25519(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return pk
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.VestingEvent
}

func (p *recordingPublisher) Publish(e *domain.VestingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy := *e
	p.events = append(p.events, &copy)
}

func (p *recordingPublisher) all() []*domain.VestingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.VestingEvent(nil), p.events...)
}

type harness struct {
	engine    *Engine
	ledger    *memory.Ledger
	events    *memory.VestingEventStore
	publisher *recordingPublisher
	clock     *FixedClock
	metrics   *observability.Metrics

	mint      solana.PublicKey
	issuer    solana.PublicKey
	depositor solana.PublicKey
	receiver  solana.PublicKey
}

type harnessOption func(*Options)

func withScope(t *testing.T, scope custody.Scope) harnessOption {
	return func(o *Options) {
		d, err := custody.NewDeriver(programID, scope)
		require.NoError(t, err)
		o.Deriver = d
	}
}

func withLedger(l storage.Ledger) harnessOption {
	return func(o *Options) { o.Ledger = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		ledger:    memory.NewLedger(),
		events:    memory.NewVestingEventStore(),
		publisher: &recordingPublisher{},
		clock:     NewFixedClock(t0 - 100),
		metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
		mint:      testKey(t, 1),
		issuer:    testKey(t, 2),
		depositor: testKey(t, 3),
		receiver:  testKey(t, 4),
	}

	deriver, err := custody.NewDeriver(programID, custody.ScopeMint)
	require.NoError(t, err)

	o := Options{
		Ledger:    h.ledger,
		Deriver:   deriver,
		Events:    h.events,
		Publisher: h.publisher,
		Clock:     h.clock,
		Logger:    log.New(io.Discard, "", 0),
		Metrics:   h.metrics,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h.engine, err = NewEngine(o)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = h.engine.CreateMint(ctx, h.mint, 6, h.issuer)
	require.NoError(t, err)
	_, err = h.engine.MintTo(ctx, h.issuer, h.mint, h.depositor, 10_000_000)
	require.NoError(t, err)

	return h
}

func (h *harness) balance(t *testing.T, owner solana.PublicKey) uint64 {
	t.Helper()
	addr, err := solana.FindAssociatedTokenAddress(owner, h.mint)
	require.NoError(t, err)
	acc, err := h.ledger.GetAccount(context.Background(), addr.String())
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acc.Amount
}

func (h *harness) custodyBalance(t *testing.T) uint64 {
	t.Helper()
	vault, err := h.engine.Custody(h.mint, h.receiver)
	require.NoError(t, err)
	acc, err := h.ledger.GetAccount(context.Background(), vault.Address.String())
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acc.Amount
}

func (h *harness) lock(amount uint64, start, end int64, shape domain.ScheduleShape) (*domain.VestingRecord, error) {
	return h.engine.Lock(context.Background(), LockRequest{
		Depositor: h.depositor,
		Receiver:  h.receiver,
		Mint:      h.mint,
		Amount:    amount,
		StartTime: start,
		EndTime:   end,
		Shape:     shape,
	})
}

func (h *harness) unlockAt(now int64) (*UnlockResult, error) {
	h.clock.Set(now)
	return h.engine.Unlock(context.Background(), UnlockRequest{
		Caller:   h.receiver,
		Receiver: h.receiver,
		Mint:     h.mint,
	})
}

func TestNewEngine_Validation(t *testing.T) {
	deriver, err := custody.NewDeriver(programID, "")
	require.NoError(t, err)

	_, err = NewEngine(Options{Deriver: deriver})
	assert.Error(t, err)

	_, err = NewEngine(Options{Ledger: memory.NewLedger()})
	assert.Error(t, err)

	_, err = NewEngine(Options{Ledger: memory.NewLedger(), Deriver: deriver, DefaultShape: "MONTHLY"})
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestLock_Success(t *testing.T) {
	h := newHarness(t)

	rec, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	vault, err := h.engine.Custody(h.mint, h.receiver)
	require.NoError(t, err)
	recordAddr, err := h.engine.deriver.RecordAddress(h.receiver, h.mint)
	require.NoError(t, err)

	assert.Equal(t, recordAddr.String(), rec.Address)
	assert.Equal(t, vault.Address.String(), rec.Custody)
	assert.Equal(t, h.depositor.String(), rec.Depositor)
	assert.Equal(t, uint64(700), rec.TotalAmount)
	assert.Zero(t, rec.ReleasedAmount)
	assert.Equal(t, uint64(7), rec.TotalWeeks)
	assert.Equal(t, t0-100, rec.CreatedAt)

	assert.Equal(t, uint64(10_000_000-700), h.balance(t, h.depositor))
	assert.Equal(t, uint64(700), h.custodyBalance(t))

	stored, err := h.engine.GetRecord(context.Background(), h.receiver, h.mint)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	events := h.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeLock, events[0].Type)
	assert.Equal(t, uint64(700), events[0].Amount)
	assert.Len(t, events[0].EventID, 64)

	audit, err := h.engine.Events(context.Background(), h.receiver.String(), h.mint.String())
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues("lock", "ok")))
}

func TestLock_DefaultShape(t *testing.T) {
	h := newHarness(t)

	rec, err := h.lock(700, t0, t0+7*week, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ShapeSteppedWeekly, rec.Shape)
}

func TestLock_ValidationLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		start   int64
		end     int64
		shape   domain.ScheduleShape
		wantErr error
	}{
		{"end before start", 100, t0, t0 - 1, domain.ShapeContinuousLinear, ErrInvalidScheduleOrder},
		{"end equals start", 100, t0, t0, domain.ShapeSteppedWeekly, ErrInvalidScheduleOrder},
		{"zero amount", 0, t0, t0 + week, domain.ShapeSteppedWeekly, ErrInvalidAmount},
		{"stepped shorter than a week", 100, t0, t0 + week - 1, domain.ShapeSteppedWeekly, ErrScheduleTooShort},
		{"unknown shape", 100, t0, t0 + week, "MONTHLY", ErrInvalidShape},
		{"insufficient funds", 10_000_001, t0, t0 + week, domain.ShapeSteppedWeekly, token.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.lock(tt.amount, tt.start, tt.end, tt.shape)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, uint64(10_000_000), h.balance(t, h.depositor))
			assert.Zero(t, h.custodyBalance(t))
			_, err = h.engine.GetRecord(context.Background(), h.receiver, h.mint)
			assert.ErrorIs(t, err, ErrScheduleNotFound)
			assert.Empty(t, h.publisher.all())
		})
	}
}

func TestLock_ContinuousShorterThanWeek(t *testing.T) {
	h := newHarness(t)

	rec, err := h.lock(100, t0, t0+60, domain.ShapeContinuousLinear)
	require.NoError(t, err)
	assert.Zero(t, rec.TotalWeeks)
}

func TestLock_Duplicate(t *testing.T) {
	h := newHarness(t)

	original, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	_, err = h.lock(500, t0+week, t0+9*week, domain.ShapeContinuousLinear)
	require.ErrorIs(t, err, ErrDuplicateSchedule)
	assert.Equal(t, ClassValidation, Classify(err))

	stored, err := h.engine.GetRecord(context.Background(), h.receiver, h.mint)
	require.NoError(t, err)
	assert.Equal(t, original, stored)
	assert.Equal(t, uint64(700), h.custodyBalance(t))
	assert.Equal(t, uint64(10_000_000-700), h.balance(t, h.depositor))
}

func TestLock_UnknownMint(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Lock(context.Background(), LockRequest{
		Depositor: h.depositor,
		Receiver:  h.receiver,
		Mint:      testKey(t, 99),
		Amount:    1,
		StartTime: t0,
		EndTime:   t0 + week,
	})
	assert.ErrorIs(t, err, token.ErrMintNotFound)
}

func TestLock_MissingDepositorAccount(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Lock(context.Background(), LockRequest{
		Depositor: testKey(t, 42),
		Receiver:  h.receiver,
		Mint:      h.mint,
		Amount:    1,
		StartTime: t0,
		EndTime:   t0 + week,
	})
	assert.ErrorIs(t, err, token.ErrAccountNotFound)
	assert.Equal(t, ClassTransfer, Classify(err))
	assert.Zero(t, h.custodyBalance(t))
}

func TestUnlock_SteppedScenario(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	res, err := h.unlockAt(t0 + 2*week + 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), res.Released)
	assert.Equal(t, uint64(200), res.ReleasedTotal)
	assert.Equal(t, uint64(500), res.Remaining)
	assert.Equal(t, uint64(200), res.Entitled)
	assert.Equal(t, uint64(200), h.balance(t, h.receiver))
	assert.Equal(t, uint64(500), h.custodyBalance(t))

	// Same week: nothing new.
	_, err = h.unlockAt(t0 + 3*week - 1)
	assert.ErrorIs(t, err, ErrNothingToRelease)

	res, err = h.unlockAt(t0 + 3*week)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.Released)

	res, err = h.unlockAt(t0 + 7*week)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), res.Released)
	assert.Zero(t, res.Remaining)

	_, err = h.unlockAt(t0 + 8*week)
	assert.ErrorIs(t, err, ErrFullyVested)
	assert.Equal(t, uint64(700), h.balance(t, h.receiver))
	assert.Zero(t, h.custodyBalance(t))
}

func TestUnlock_ContinuousScenario(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(1_000_000, t0, t0+1_000_000, domain.ShapeContinuousLinear)
	require.NoError(t, err)

	steps := []struct {
		at       int64
		release  uint64
		released uint64
	}{
		{t0 + 250_000, 250_000, 250_000},
		{t0 + 500_000, 250_000, 500_000},
		{t0 + 2_000_000, 500_000, 1_000_000},
	}
	for _, s := range steps {
		res, err := h.unlockAt(s.at)
		require.NoError(t, err)
		assert.Equal(t, s.release, res.Released)
		assert.Equal(t, s.released, res.ReleasedTotal)
	}

	_, err = h.unlockAt(t0 + 3_000_000)
	assert.ErrorIs(t, err, ErrFullyVested)
	assert.Equal(t, ClassExhausted, Classify(err))

	assert.Equal(t, uint64(1_000_000), h.balance(t, h.receiver))
	assert.Len(t, h.publisher.all(), 4)
}

func TestUnlock_CliffNotPassed(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	for _, at := range []int64{t0 - week, t0 - 1, t0} {
		_, err := h.unlockAt(at)
		require.ErrorIs(t, err, ErrCliffNotPassed)
		assert.Equal(t, ClassTiming, Classify(err))
	}

	assert.Zero(t, h.balance(t, h.receiver))
	assert.Equal(t, uint64(700), h.custodyBalance(t))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues("unlock", "timing")))
}

func TestUnlock_NothingBeforeFirstWeek(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	_, err = h.unlockAt(t0 + week - 1)
	assert.ErrorIs(t, err, ErrNothingToRelease)
}

func TestUnlock_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.unlockAt(t0 + week)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestUnlock_ThirdPartyCaller(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	stranger := testKey(t, 77)
	h.clock.Set(t0 + week)
	res, err := h.engine.Unlock(context.Background(), UnlockRequest{
		Caller:   stranger,
		Receiver: h.receiver,
		Mint:     h.mint,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.Released)
	assert.Equal(t, uint64(100), h.balance(t, h.receiver))
	assert.Zero(t, h.balance(t, stranger))

	events := h.publisher.all()
	require.Len(t, events, 2)
	assert.Equal(t, stranger.String(), events[1].Signer)
}

func TestUnlock_MonotonicAndConserving(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, shape := range []domain.ScheduleShape{domain.ShapeSteppedWeekly, domain.ShapeContinuousLinear} {
		t.Run(shape.String(), func(t *testing.T) {
			h := newHarness(t)

			const total = 9_999_991
			end := t0 + 13*week + 12345
			_, err := h.lock(total, t0, end, shape)
			require.NoError(t, err)

			var (
				now      = t0 - week
				released uint64
				sum      uint64
			)
			for now < end+2*week {
				now += rng.Int63n(week / 2)
				res, err := h.unlockAt(now)
				switch {
				case err == nil:
					require.Greater(t, res.ReleasedTotal, released)
					require.LessOrEqual(t, res.ReleasedTotal, uint64(total))
					sum += res.Released
					released = res.ReleasedTotal
				case errors.Is(err, ErrCliffNotPassed), errors.Is(err, ErrNothingToRelease), errors.Is(err, ErrFullyVested):
				default:
					t.Fatalf("unexpected error at %d: %v", now, err)
				}
				require.Equal(t, released, sum)
				require.Equal(t, uint64(total)-released, h.custodyBalance(t))
			}

			assert.Equal(t, uint64(total), released)
			_, err = h.unlockAt(now + week)
			assert.ErrorIs(t, err, ErrFullyVested)
		})
	}
}

// failingLedger wraps a ledger and corrupts selected transaction steps.
type failingLedger struct {
	*memory.Ledger
	failUpdate    error
	conflictsLeft int
	attempts      int
	mu            sync.Mutex
}

func (l *failingLedger) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	l.mu.Lock()
	l.attempts++
	conflict := l.conflictsLeft > 0
	if conflict {
		l.conflictsLeft--
	}
	l.mu.Unlock()

	return l.Ledger.Atomic(ctx, func(tx storage.Tx) error {
		if err := fn(&failingTx{Tx: tx, failUpdate: l.failUpdate}); err != nil {
			return err
		}
		if conflict {
			return storage.ErrConflict
		}
		return nil
	})
}

type failingTx struct {
	storage.Tx
	failUpdate error
}

func (tx *failingTx) UpdateReleased(ctx context.Context, receiver, mint string, expected, released uint64, updatedAt int64) error {
	if tx.failUpdate != nil {
		return tx.failUpdate
	}
	return tx.Tx.UpdateReleased(ctx, receiver, mint, expected, released, updatedAt)
}

func TestUnlock_RecordFailureRollsBackTransfer(t *testing.T) {
	fl := &failingLedger{Ledger: memory.NewLedger()}
	h := newHarness(t, withLedger(fl))
	h.ledger = fl.Ledger

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	fl.failUpdate = errors.New("disk full")
	_, err = h.unlockAt(t0 + 3*week)
	require.Error(t, err)
	assert.Equal(t, ClassInternal, Classify(err))

	assert.Zero(t, h.balance(t, h.receiver))
	assert.Equal(t, uint64(700), h.custodyBalance(t))
	rec, err := h.engine.GetRecord(context.Background(), h.receiver, h.mint)
	require.NoError(t, err)
	assert.Zero(t, rec.ReleasedAmount)

	fl.failUpdate = nil
	res, err := h.unlockAt(t0 + 3*week)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), res.Released)
}

func TestUnlock_RetriesConflicts(t *testing.T) {
	fl := &failingLedger{Ledger: memory.NewLedger()}
	h := newHarness(t, withLedger(fl))
	h.ledger = fl.Ledger

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	fl.attempts = 0
	fl.conflictsLeft = 2
	res, err := h.unlockAt(t0 + week)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.Released)
	assert.Equal(t, 3, fl.attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ConflictRetries.WithLabelValues("unlock")))

	fl.attempts = 0
	fl.conflictsLeft = 100
	_, err = h.unlockAt(t0 + 2*week)
	require.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, defaultMaxConflictRetries+1, fl.attempts)
	assert.Equal(t, uint64(100), h.balance(t, h.receiver))
}

func TestUnlock_ConcurrentCallsReleaseOnce(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)
	h.clock.Set(t0 + 4*week)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released uint64
		okCount  int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.Unlock(context.Background(), UnlockRequest{
				Caller: h.receiver, Receiver: h.receiver, Mint: h.mint,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				okCount++
				released += res.Released
				return
			}
			assert.ErrorIs(t, err, ErrNothingToRelease)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, okCount)
	assert.Equal(t, uint64(400), released)
	assert.Equal(t, uint64(400), h.balance(t, h.receiver))
	assert.Equal(t, uint64(300), h.custodyBalance(t))
	assert.Zero(t, h.engine.locks.size())
}

func TestUnlock_ReadsClockAfterQueueing(t *testing.T) {
	h := newHarness(t)

	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	key := h.receiver.String() + "/" + h.mint.String()
	release := h.engine.locks.Lock(key)

	h.clock.Set(t0 + 2*week + 1)
	type outcome struct {
		res *UnlockResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.engine.Unlock(context.Background(), UnlockRequest{
			Caller: h.receiver, Receiver: h.receiver, Mint: h.mint,
		})
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		h.engine.locks.mu.Lock()
		defer h.engine.locks.mu.Unlock()
		m, ok := h.engine.locks.locks[key]
		return ok && m.refs == 2
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Set(t0 + 5*week)
	release()

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, t0+5*week, out.res.At)
	assert.Equal(t, uint64(500), out.res.Released)
}

func TestLock_ConcurrentReceiversShareMintCustody(t *testing.T) {
	h := newHarness(t)

	receivers := make([]solana.PublicKey, 20)
	for i := range receivers {
		receivers[i] = testKey(t, byte(100+i))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(receivers))
	for i := range receivers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Lock(context.Background(), LockRequest{
				Depositor: h.depositor,
				Receiver:  receivers[i],
				Mint:      h.mint,
				Amount:    1_000,
				StartTime: t0,
				EndTime:   t0 + 4*week,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(20_000), h.custodyBalance(t))
	assert.Equal(t, uint64(10_000_000-20_000), h.balance(t, h.depositor))

	records, err := h.engine.ListByMint(context.Background(), h.mint)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestReceiverScopeSeparatesCustody(t *testing.T) {
	h := newHarness(t, withScope(t, custody.ScopeReceiver))

	other := testKey(t, 50)
	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)
	otherRec, err := h.engine.Lock(context.Background(), LockRequest{
		Depositor: h.depositor, Receiver: other, Mint: h.mint,
		Amount: 300, StartTime: t0, EndTime: t0 + 3*week,
	})
	require.NoError(t, err)

	rec, err := h.engine.GetRecord(context.Background(), h.receiver, h.mint)
	require.NoError(t, err)
	assert.NotEqual(t, rec.Custody, otherRec.Custody)
	assert.Equal(t, uint64(700), h.custodyBalance(t))

	res, err := h.unlockAt(t0 + 7*week)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), res.Released)

	acc, err := h.engine.Account(context.Background(), otherRec.Custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), acc.Amount)
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Preview(ctx, h.receiver, h.mint)
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	_, err = h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	p, err := h.engine.Preview(ctx, h.receiver, h.mint)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Zero(t, p.Releasable)
	assert.Equal(t, t0+week, p.NextReleaseAt)

	h.clock.Set(t0 + 2*week + 5)
	p, err = h.engine.Preview(ctx, h.receiver, h.mint)
	require.NoError(t, err)
	assert.Equal(t, StatusVesting, p.Status)
	assert.Equal(t, uint64(200), p.Entitled)
	assert.Equal(t, uint64(200), p.Releasable)

	// Preview never mutates.
	rec, err := h.engine.GetRecord(ctx, h.receiver, h.mint)
	require.NoError(t, err)
	assert.Zero(t, rec.ReleasedAmount)

	_, err = h.unlockAt(t0 + 8*week)
	require.NoError(t, err)
	p, err = h.engine.Preview(ctx, h.receiver, h.mint)
	require.NoError(t, err)
	assert.Equal(t, StatusFullyVested, p.Status)
	assert.Zero(t, p.NextReleaseAt)
}

type brokenClock struct{}

func (brokenClock) Now(context.Context) (int64, error) {
	return 0, errors.New("rpc down")
}

func TestUnlock_ClockFailure(t *testing.T) {
	h := newHarness(t)
	_, err := h.lock(700, t0, t0+7*week, domain.ShapeSteppedWeekly)
	require.NoError(t, err)

	h.engine.clock = brokenClock{}
	_, err = h.engine.Unlock(context.Background(), UnlockRequest{Receiver: h.receiver, Mint: h.mint})
	assert.ErrorIs(t, err, ErrClockUnavailable)
	assert.Equal(t, ClassInternal, Classify(err))
}

func TestEvents_Disabled(t *testing.T) {
	deriver, err := custody.NewDeriver(programID, "")
	require.NoError(t, err)
	e, err := NewEngine(Options{Ledger: memory.NewLedger(), Deriver: deriver, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)

	_, err = e.Events(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrEventsDisabled)
}
