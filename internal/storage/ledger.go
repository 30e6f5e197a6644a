package storage

import (
	"context"

	"solana-token-vesting/internal/domain"
)

// RecordTx is the vesting_records view inside a transaction.
type RecordTx interface {
	// GetRecordForUpdate retrieves a record and holds it until the transaction ends.
	// Returns ErrNotFound if not exists.
	GetRecordForUpdate(ctx context.Context, receiver, mint string) (*domain.VestingRecord, error)

	// InsertRecord adds a new record. Returns ErrDuplicateKey if (receiver, mint) exists.
	InsertRecord(ctx context.Context, r *domain.VestingRecord) error

	// UpdateReleased sets released_amount from expected to released.
	// Returns ErrConflict if the stored value is not expected, ErrInvalidInput if
	// released would decrease or exceed total_amount.
	UpdateReleased(ctx context.Context, receiver, mint string, expected, released uint64, updatedAt int64) error
}

// AccountTx is the token_mints / token_accounts view inside a transaction.
type AccountTx interface {
	// GetMint retrieves a mint. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, address string) (*domain.Mint, error)

	// InsertMint adds a new mint. Returns ErrDuplicateKey if address exists.
	InsertMint(ctx context.Context, m *domain.Mint) error

	// AddSupply increases a mint's supply. Returns ErrOverflow past MaxUint64.
	AddSupply(ctx context.Context, address string, amount uint64) error

	// GetAccount retrieves a token account. Returns ErrNotFound if not exists.
	GetAccount(ctx context.Context, address string) (*domain.TokenAccount, error)

	// InsertAccountIfAbsent creates a zero-balance account unless address exists.
	// An existing account is left untouched; callers re-read to validate it.
	InsertAccountIfAbsent(ctx context.Context, a *domain.TokenAccount) error

	// Debit subtracts amount. Returns ErrInsufficientBalance if it would go negative.
	Debit(ctx context.Context, address string, amount uint64) error

	// Credit adds amount. Returns ErrOverflow past MaxUint64.
	Credit(ctx context.Context, address string, amount uint64) error
}

// Tx is a unit of work over vesting records and token balances.
type Tx interface {
	RecordTx
	AccountTx
}

// Ledger provides transactional access to vesting records and token balances.
// Writes made through a Tx become visible together when Atomic returns nil,
// and not at all otherwise.
type Ledger interface {
	// Atomic runs fn inside a transaction. A non-nil error from fn or from
	// commit discards every write. ErrConflict means the caller may retry.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// GetRecord retrieves a record by (receiver, mint). Returns ErrNotFound if not exists.
	GetRecord(ctx context.Context, receiver, mint string) (*domain.VestingRecord, error)

	// GetRecordsByReceiver retrieves all records of a receiver, ordered by start_time ASC.
	GetRecordsByReceiver(ctx context.Context, receiver string) ([]*domain.VestingRecord, error)

	// GetRecordsByMint retrieves all records of a mint, ordered by start_time ASC.
	GetRecordsByMint(ctx context.Context, mint string) ([]*domain.VestingRecord, error)

	// GetMint retrieves a mint. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, address string) (*domain.Mint, error)

	// GetAccount retrieves a token account. Returns ErrNotFound if not exists.
	GetAccount(ctx context.Context, address string) (*domain.TokenAccount, error)
}

// EventStore provides access to vesting_events storage (append-only).
type EventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.VestingEvent) error

	// GetByRecord retrieves all events of a record, ordered by (timestamp, released_amount) ASC.
	GetByRecord(ctx context.Context, receiver, mint string) ([]*domain.VestingEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.VestingEvent, error)
}
