package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/storage"
)

// Ledger implements storage.Ledger using PostgreSQL.
//
// Record rows are locked with SELECT ... FOR UPDATE and released_amount is
// updated with a compare-and-set. Balance changes are single conditional
// UPDATEs so concurrent transfers never read-modify-write a stale balance.
type Ledger struct {
	pool *Pool
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Compile-time interface check.
var _ storage.Ledger = (*Ledger)(nil)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const recordColumns = `
	address, receiver, mint, depositor, custody,
	total_amount, released_amount, start_time, end_time,
	shape, total_weeks, created_at, updated_at`

// Atomic runs fn inside a READ COMMITTED transaction.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		if isConflictError(err) {
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isConflictError(err) {
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by (receiver, mint). Returns ErrNotFound if not exists.
func (l *Ledger) GetRecord(ctx context.Context, receiver, mint string) (*domain.VestingRecord, error) {
	return getRecord(ctx, l.pool, receiver, mint, false)
}

// GetRecordsByReceiver retrieves all records of a receiver, ordered by start_time ASC.
func (l *Ledger) GetRecordsByReceiver(ctx context.Context, receiver string) ([]*domain.VestingRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM vesting_records
		WHERE receiver = $1
		ORDER BY start_time ASC, mint ASC
	`

	rows, err := l.pool.Query(ctx, query, receiver)
	if err != nil {
		return nil, fmt.Errorf("get vesting records by receiver: %w", err)
	}
	defer rows.Close()

	return scanVestingRecords(rows)
}

// GetRecordsByMint retrieves all records of a mint, ordered by start_time ASC.
func (l *Ledger) GetRecordsByMint(ctx context.Context, mint string) ([]*domain.VestingRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM vesting_records
		WHERE mint = $1
		ORDER BY start_time ASC, receiver ASC
	`

	rows, err := l.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get vesting records by mint: %w", err)
	}
	defer rows.Close()

	return scanVestingRecords(rows)
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (l *Ledger) GetMint(ctx context.Context, address string) (*domain.Mint, error) {
	return getMint(ctx, l.pool, address)
}

// GetAccount retrieves a token account. Returns ErrNotFound if not exists.
func (l *Ledger) GetAccount(ctx context.Context, address string) (*domain.TokenAccount, error) {
	return getAccount(ctx, l.pool, address)
}

// ledgerTx implements storage.Tx on a pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

// GetRecordForUpdate retrieves a record and locks its row until the transaction ends.
func (t *ledgerTx) GetRecordForUpdate(ctx context.Context, receiver, mint string) (*domain.VestingRecord, error) {
	return getRecord(ctx, t.tx, receiver, mint, true)
}

// InsertRecord adds a new record. Returns ErrDuplicateKey if (receiver, mint) exists.
func (t *ledgerTx) InsertRecord(ctx context.Context, r *domain.VestingRecord) error {
	if r == nil || r.Receiver == "" || r.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO vesting_records (` + recordColumns + `
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)
	`

	_, err := t.tx.Exec(ctx, query,
		r.Address, r.Receiver, r.Mint, r.Depositor, r.Custody,
		toNumeric(r.TotalAmount), toNumeric(r.ReleasedAmount), r.StartTime, r.EndTime,
		r.Shape, toNumeric(r.TotalWeeks), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert vesting record: %w", err)
	}
	return nil
}

// UpdateReleased sets released_amount from expected to released.
func (t *ledgerTx) UpdateReleased(ctx context.Context, receiver, mint string, expected, released uint64, updatedAt int64) error {
	if released < expected {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE vesting_records
		SET released_amount = $4, updated_at = $5
		WHERE receiver = $1 AND mint = $2 AND released_amount = $3
	`

	tag, err := t.tx.Exec(ctx, query, receiver, mint, toNumeric(expected), toNumeric(released), updatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("update released amount: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := getRecord(ctx, t.tx, receiver, mint, false); err != nil {
		return err
	}
	return storage.ErrConflict
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (t *ledgerTx) GetMint(ctx context.Context, address string) (*domain.Mint, error) {
	return getMint(ctx, t.tx, address)
}

// InsertMint adds a new mint. Returns ErrDuplicateKey if address exists.
func (t *ledgerTx) InsertMint(ctx context.Context, m *domain.Mint) error {
	if m == nil || m.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_mints (address, decimals, mint_authority, supply)
		VALUES ($1, $2, $3, $4)
	`

	_, err := t.tx.Exec(ctx, query, m.Address, int16(m.Decimals), m.MintAuthority, toNumeric(m.Supply))
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token mint: %w", err)
	}
	return nil
}

// AddSupply increases a mint's supply. Returns ErrOverflow past MaxUint64.
func (t *ledgerTx) AddSupply(ctx context.Context, address string, amount uint64) error {
	query := `UPDATE token_mints SET supply = supply + $2 WHERE address = $1`

	tag, err := t.tx.Exec(ctx, query, address, toNumeric(amount))
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrOverflow
		}
		return fmt.Errorf("add mint supply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetAccount retrieves a token account. Returns ErrNotFound if not exists.
func (t *ledgerTx) GetAccount(ctx context.Context, address string) (*domain.TokenAccount, error) {
	return getAccount(ctx, t.tx, address)
}

// InsertAccountIfAbsent creates a zero-balance account unless address exists.
// A concurrent insert of the same address waits for the other transaction.
func (t *ledgerTx) InsertAccountIfAbsent(ctx context.Context, a *domain.TokenAccount) error {
	if a == nil || a.Address == "" || a.Mint == "" || a.Owner == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_accounts (address, mint, owner, amount)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (address) DO NOTHING
	`

	if _, err := t.tx.Exec(ctx, query, a.Address, a.Mint, a.Owner); err != nil {
		return fmt.Errorf("insert token account: %w", err)
	}
	return nil
}

// Debit subtracts amount. Returns ErrInsufficientBalance if it would go negative.
func (t *ledgerTx) Debit(ctx context.Context, address string, amount uint64) error {
	query := `UPDATE token_accounts SET amount = amount - $2 WHERE address = $1 AND amount >= $2`

	tag, err := t.tx.Exec(ctx, query, address, toNumeric(amount))
	if err != nil {
		return fmt.Errorf("debit token account: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := getAccount(ctx, t.tx, address); err != nil {
		return err
	}
	return storage.ErrInsufficientBalance
}

// Credit adds amount. Returns ErrOverflow past MaxUint64.
func (t *ledgerTx) Credit(ctx context.Context, address string, amount uint64) error {
	query := `UPDATE token_accounts SET amount = amount + $2 WHERE address = $1`

	tag, err := t.tx.Exec(ctx, query, address, toNumeric(amount))
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrOverflow
		}
		return fmt.Errorf("credit token account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.Tx = (*ledgerTx)(nil)

func getRecord(ctx context.Context, q querier, receiver, mint string, forUpdate bool) (*domain.VestingRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM vesting_records
		WHERE receiver = $1 AND mint = $2
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	r, err := scanVestingRecord(q.QueryRow(ctx, query, receiver, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vesting record: %w", err)
	}
	return r, nil
}

func getMint(ctx context.Context, q querier, address string) (*domain.Mint, error) {
	query := `SELECT address, decimals, mint_authority, supply FROM token_mints WHERE address = $1`

	var (
		m        domain.Mint
		decimals int16
		supply   decimal.Decimal
	)
	err := q.QueryRow(ctx, query, address).Scan(&m.Address, &decimals, &m.MintAuthority, &supply)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token mint: %w", err)
	}

	m.Decimals = uint8(decimals)
	if m.Supply, err = fromNumeric(supply); err != nil {
		return nil, fmt.Errorf("token mint supply: %w", err)
	}
	return &m, nil
}

func getAccount(ctx context.Context, q querier, address string) (*domain.TokenAccount, error) {
	query := `SELECT address, mint, owner, amount FROM token_accounts WHERE address = $1`

	var (
		a      domain.TokenAccount
		amount decimal.Decimal
	)
	err := q.QueryRow(ctx, query, address).Scan(&a.Address, &a.Mint, &a.Owner, &amount)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token account: %w", err)
	}

	if a.Amount, err = fromNumeric(amount); err != nil {
		return nil, fmt.Errorf("token account amount: %w", err)
	}
	return &a, nil
}

// scanVestingRecord scans a single row into a VestingRecord.
func scanVestingRecord(row pgx.Row) (*domain.VestingRecord, error) {
	var (
		r                      domain.VestingRecord
		total, released, weeks decimal.Decimal
	)

	err := row.Scan(
		&r.Address, &r.Receiver, &r.Mint, &r.Depositor, &r.Custody,
		&total, &released, &r.StartTime, &r.EndTime,
		&r.Shape, &weeks, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.TotalAmount, err = fromNumeric(total); err != nil {
		return nil, fmt.Errorf("total_amount: %w", err)
	}
	if r.ReleasedAmount, err = fromNumeric(released); err != nil {
		return nil, fmt.Errorf("released_amount: %w", err)
	}
	if r.TotalWeeks, err = fromNumeric(weeks); err != nil {
		return nil, fmt.Errorf("total_weeks: %w", err)
	}
	return &r, nil
}

// scanVestingRecords scans multiple rows into a slice of VestingRecord.
func scanVestingRecords(rows pgx.Rows) ([]*domain.VestingRecord, error) {
	var records []*domain.VestingRecord

	for rows.Next() {
		r, err := scanVestingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vesting record row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vesting record rows: %w", err)
	}

	return records, nil
}

// toNumeric converts a u64 amount to a NUMERIC(20,0) parameter.
func toNumeric(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// fromNumeric converts a NUMERIC(20,0) column back to u64.
func fromNumeric(d decimal.Decimal) (uint64, error) {
	if !d.IsInteger() || d.Sign() < 0 {
		return 0, fmt.Errorf("numeric %s is not a u64", d.String())
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("numeric %s overflows u64", d.String())
	}
	return b.Uint64(), nil
}
