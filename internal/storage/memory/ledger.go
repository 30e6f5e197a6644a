package memory

import (
	"context"
	"math/bits"
	"sort"
	"sync"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/storage"
)

// Ledger is an in-memory implementation of storage.Ledger.
//
// Transactions buffer their writes and validate them at commit: record
// updates are compare-and-set on released_amount, balance changes are applied
// as deltas against the committed balance. The store mutex is held only for
// validate-and-apply, never while fn runs.
type Ledger struct {
	mu       sync.RWMutex
	records  map[domain.RecordKey]*domain.VestingRecord
	mints    map[string]*domain.Mint
	accounts map[string]*domain.TokenAccount
}

// NewLedger creates a new in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records:  make(map[domain.RecordKey]*domain.VestingRecord),
		mints:    make(map[string]*domain.Mint),
		accounts: make(map[string]*domain.TokenAccount),
	}
}

// Atomic runs fn against a buffered transaction and commits its writes together.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newLedgerTx(l)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetRecord retrieves a record by (receiver, mint). Returns ErrNotFound if not exists.
func (l *Ledger) GetRecord(_ context.Context, receiver, mint string) (*domain.VestingRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, exists := l.records[domain.RecordKey{Receiver: receiver, Mint: mint}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// GetRecordsByReceiver retrieves all records of a receiver, ordered by start_time ASC.
func (l *Ledger) GetRecordsByReceiver(_ context.Context, receiver string) ([]*domain.VestingRecord, error) {
	return l.filterRecords(func(r *domain.VestingRecord) bool { return r.Receiver == receiver }), nil
}

// GetRecordsByMint retrieves all records of a mint, ordered by start_time ASC.
func (l *Ledger) GetRecordsByMint(_ context.Context, mint string) ([]*domain.VestingRecord, error) {
	return l.filterRecords(func(r *domain.VestingRecord) bool { return r.Mint == mint }), nil
}

func (l *Ledger) filterRecords(match func(*domain.VestingRecord) bool) []*domain.VestingRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.VestingRecord
	for _, r := range l.records {
		if match(r) {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTime != result[j].StartTime {
			return result[i].StartTime < result[j].StartTime
		}
		return result[i].Key().String() < result[j].Key().String()
	})

	return result
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (l *Ledger) GetMint(_ context.Context, address string) (*domain.Mint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, exists := l.mints[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *m
	return &copy, nil
}

// GetAccount retrieves a token account. Returns ErrNotFound if not exists.
func (l *Ledger) GetAccount(_ context.Context, address string) (*domain.TokenAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, exists := l.accounts[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *a
	return &copy, nil
}

// releaseUpdate is a buffered compare-and-set on released_amount.
type releaseUpdate struct {
	expected  uint64
	released  uint64
	updatedAt int64
}

// ledgerTx buffers writes until commit. Reads see committed state overlaid
// with the transaction's own writes.
type ledgerTx struct {
	l *Ledger

	newRecords  map[domain.RecordKey]*domain.VestingRecord
	updates     map[domain.RecordKey]releaseUpdate
	newMints    map[string]*domain.Mint
	supply      map[string]uint64
	newAccounts map[string]*domain.TokenAccount
	credits     map[string]uint64
	debits      map[string]uint64
}

func newLedgerTx(l *Ledger) *ledgerTx {
	return &ledgerTx{
		l:           l,
		newRecords:  make(map[domain.RecordKey]*domain.VestingRecord),
		updates:     make(map[domain.RecordKey]releaseUpdate),
		newMints:    make(map[string]*domain.Mint),
		supply:      make(map[string]uint64),
		newAccounts: make(map[string]*domain.TokenAccount),
		credits:     make(map[string]uint64),
		debits:      make(map[string]uint64),
	}
}

// GetRecordForUpdate retrieves a record as seen by this transaction.
// Exclusivity is enforced at commit by the released_amount compare-and-set.
func (tx *ledgerTx) GetRecordForUpdate(ctx context.Context, receiver, mint string) (*domain.VestingRecord, error) {
	key := domain.RecordKey{Receiver: receiver, Mint: mint}

	if r, exists := tx.newRecords[key]; exists {
		copy := *r
		return &copy, nil
	}

	r, err := tx.l.GetRecord(ctx, receiver, mint)
	if err != nil {
		return nil, err
	}
	if u, exists := tx.updates[key]; exists {
		r.ReleasedAmount = u.released
		r.UpdatedAt = u.updatedAt
	}
	return r, nil
}

// InsertRecord buffers a new record. Returns ErrDuplicateKey if (receiver, mint) exists.
func (tx *ledgerTx) InsertRecord(ctx context.Context, r *domain.VestingRecord) error {
	if r == nil || r.Receiver == "" || r.Mint == "" {
		return storage.ErrInvalidInput
	}

	key := r.Key()
	if _, exists := tx.newRecords[key]; exists {
		return storage.ErrDuplicateKey
	}
	if _, err := tx.l.GetRecord(ctx, r.Receiver, r.Mint); err == nil {
		return storage.ErrDuplicateKey
	}

	copy := *r
	tx.newRecords[key] = &copy
	return nil
}

// UpdateReleased buffers a compare-and-set of released_amount.
func (tx *ledgerTx) UpdateReleased(ctx context.Context, receiver, mint string, expected, released uint64, updatedAt int64) error {
	current, err := tx.GetRecordForUpdate(ctx, receiver, mint)
	if err != nil {
		return err
	}
	if current.ReleasedAmount != expected {
		return storage.ErrConflict
	}
	if released < expected || released > current.TotalAmount {
		return storage.ErrInvalidInput
	}

	key := domain.RecordKey{Receiver: receiver, Mint: mint}
	if r, exists := tx.newRecords[key]; exists {
		r.ReleasedAmount = released
		r.UpdatedAt = updatedAt
		return nil
	}

	u, exists := tx.updates[key]
	if !exists {
		u.expected = expected
	}
	u.released = released
	u.updatedAt = updatedAt
	tx.updates[key] = u
	return nil
}

// GetMint retrieves a mint as seen by this transaction.
func (tx *ledgerTx) GetMint(ctx context.Context, address string) (*domain.Mint, error) {
	var m *domain.Mint
	if pending, exists := tx.newMints[address]; exists {
		copy := *pending
		m = &copy
	} else {
		committed, err := tx.l.GetMint(ctx, address)
		if err != nil {
			return nil, err
		}
		m = committed
	}

	supply, carry := bits.Add64(m.Supply, tx.supply[address], 0)
	if carry != 0 {
		return nil, storage.ErrOverflow
	}
	m.Supply = supply
	return m, nil
}

// InsertMint buffers a new mint. Returns ErrDuplicateKey if address exists.
func (tx *ledgerTx) InsertMint(ctx context.Context, m *domain.Mint) error {
	if m == nil || m.Address == "" {
		return storage.ErrInvalidInput
	}
	if _, err := tx.GetMint(ctx, m.Address); err == nil {
		return storage.ErrDuplicateKey
	}

	copy := *m
	tx.newMints[m.Address] = &copy
	return nil
}

// AddSupply buffers a supply increase.
func (tx *ledgerTx) AddSupply(ctx context.Context, address string, amount uint64) error {
	m, err := tx.GetMint(ctx, address)
	if err != nil {
		return err
	}
	if _, carry := bits.Add64(m.Supply, amount, 0); carry != 0 {
		return storage.ErrOverflow
	}
	tx.supply[address] += amount
	return nil
}

// GetAccount retrieves an account as seen by this transaction.
func (tx *ledgerTx) GetAccount(ctx context.Context, address string) (*domain.TokenAccount, error) {
	var a *domain.TokenAccount
	if pending, exists := tx.newAccounts[address]; exists {
		copy := *pending
		a = &copy
	} else {
		committed, err := tx.l.GetAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		a = committed
	}

	amount, err := applyDelta(a.Amount, tx.credits[address], tx.debits[address])
	if err != nil {
		return nil, err
	}
	a.Amount = amount
	return a, nil
}

// InsertAccountIfAbsent buffers a zero-balance account unless address exists.
func (tx *ledgerTx) InsertAccountIfAbsent(ctx context.Context, a *domain.TokenAccount) error {
	if a == nil || a.Address == "" || a.Mint == "" || a.Owner == "" {
		return storage.ErrInvalidInput
	}
	if _, err := tx.GetAccount(ctx, a.Address); err == nil {
		return nil
	}

	tx.newAccounts[a.Address] = &domain.TokenAccount{
		Address: a.Address,
		Mint:    a.Mint,
		Owner:   a.Owner,
	}
	return nil
}

// Debit buffers a balance decrease.
func (tx *ledgerTx) Debit(ctx context.Context, address string, amount uint64) error {
	a, err := tx.GetAccount(ctx, address)
	if err != nil {
		return err
	}
	if a.Amount < amount {
		return storage.ErrInsufficientBalance
	}
	tx.debits[address] += amount
	return nil
}

// Credit buffers a balance increase.
func (tx *ledgerTx) Credit(ctx context.Context, address string, amount uint64) error {
	a, err := tx.GetAccount(ctx, address)
	if err != nil {
		return err
	}
	if _, carry := bits.Add64(a.Amount, amount, 0); carry != 0 {
		return storage.ErrOverflow
	}
	tx.credits[address] += amount
	return nil
}

// commit validates every buffered write against committed state and applies
// all of them, or none.
func (tx *ledgerTx) commit() error {
	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range tx.newRecords {
		if _, exists := l.records[key]; exists {
			return storage.ErrConflict
		}
	}
	for key, u := range tx.updates {
		r, exists := l.records[key]
		if !exists || r.ReleasedAmount != u.expected {
			return storage.ErrConflict
		}
	}
	for address := range tx.newMints {
		if _, exists := l.mints[address]; exists {
			return storage.ErrConflict
		}
	}

	supply := make(map[string]uint64, len(tx.supply))
	for address, delta := range tx.supply {
		m := tx.newMints[address]
		if m == nil {
			m = l.mints[address]
		}
		if m == nil {
			return storage.ErrConflict
		}
		total, carry := bits.Add64(m.Supply, delta, 0)
		if carry != 0 {
			return storage.ErrOverflow
		}
		supply[address] = total
	}

	// Accounts created concurrently by another transaction are adopted when
	// they match what this transaction would have created.
	adopted := make(map[string]bool)
	for address, a := range tx.newAccounts {
		if existing, exists := l.accounts[address]; exists {
			if existing.Mint != a.Mint || existing.Owner != a.Owner {
				return storage.ErrConflict
			}
			adopted[address] = true
		}
	}

	balances := make(map[string]uint64)
	for _, address := range tx.touchedAccounts() {
		base := uint64(0)
		if a, exists := l.accounts[address]; exists {
			base = a.Amount
		} else if _, pending := tx.newAccounts[address]; !pending {
			return storage.ErrConflict
		}
		amount, err := applyDelta(base, tx.credits[address], tx.debits[address])
		if err != nil {
			return err
		}
		balances[address] = amount
	}

	for key, r := range tx.newRecords {
		l.records[key] = r
	}
	for key, u := range tx.updates {
		r := *l.records[key]
		r.ReleasedAmount = u.released
		r.UpdatedAt = u.updatedAt
		l.records[key] = &r
	}
	for address, m := range tx.newMints {
		l.mints[address] = m
	}
	for address, total := range supply {
		m := *l.mints[address]
		m.Supply = total
		l.mints[address] = &m
	}
	for address, a := range tx.newAccounts {
		if !adopted[address] {
			l.accounts[address] = a
		}
	}
	for address, amount := range balances {
		a := *l.accounts[address]
		a.Amount = amount
		l.accounts[address] = &a
	}

	return nil
}

func (tx *ledgerTx) touchedAccounts() []string {
	seen := make(map[string]struct{}, len(tx.credits)+len(tx.debits))
	for address := range tx.credits {
		seen[address] = struct{}{}
	}
	for address := range tx.debits {
		seen[address] = struct{}{}
	}

	addresses := make([]string, 0, len(seen))
	for address := range seen {
		addresses = append(addresses, address)
	}
	return addresses
}

// applyDelta returns base+credit-debit, failing on overflow or a negative result.
func applyDelta(base, credit, debit uint64) (uint64, error) {
	sum, carry := bits.Add64(base, credit, 0)
	if carry != 0 {
		return 0, storage.ErrOverflow
	}
	if sum < debit {
		return 0, storage.ErrInsufficientBalance
	}
	return sum - debit, nil
}

var _ storage.Ledger = (*Ledger)(nil)
var _ storage.Tx = (*ledgerTx)(nil)
