package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a concurrent transaction changed a row
	// this transaction depends on. The whole unit of work may be retried.
	ErrConflict = errors.New("concurrent modification")

	// ErrInsufficientBalance is returned when a debit exceeds the account balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverflow is returned when a credit or supply increase exceeds MaxUint64.
	ErrOverflow = errors.New("amount overflow")
)
