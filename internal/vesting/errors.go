package vesting

import (
	"errors"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/token"
)

// Validation errors: caller-input problems, never retried automatically.
var (
	ErrInvalidScheduleOrder = errors.New("end time must be after start time")
	ErrScheduleTooShort     = errors.New("schedule is shorter than one week")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidShape         = errors.New("unknown schedule shape")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrDuplicateSchedule    = errors.New("vesting schedule already exists for receiver and mint")
	ErrScheduleNotFound     = errors.New("vesting schedule not found")
)

// Timing errors: expected and safe to retry once time has passed.
var (
	ErrCliffNotPassed   = errors.New("vesting has not started")
	ErrNothingToRelease = errors.New("nothing to release yet")
)

// ErrFullyVested signals that every deposited unit has been released.
var ErrFullyVested = errors.New("schedule fully vested")

// Internal errors.
var (
	ErrClockUnavailable = errors.New("clock unavailable")
	ErrCustodyMismatch  = errors.New("record custody does not match derived vault")
	ErrEventsDisabled   = errors.New("event store not configured")
)

// Class groups errors by how callers should react to them.
type Class string

const (
	ClassOK         Class = "ok"
	ClassValidation Class = "validation"
	ClassTiming     Class = "timing"
	ClassExhausted  Class = "exhausted"
	ClassTransfer   Class = "transfer"
	ClassInternal   Class = "internal"
)

// String returns the string representation of Class.
func (c Class) String() string {
	return string(c)
}

// Classify maps an error returned by the Engine to its Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, ErrInvalidScheduleOrder),
		errors.Is(err, ErrScheduleTooShort),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidShape),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrDuplicateSchedule),
		errors.Is(err, ErrScheduleNotFound),
		errors.Is(err, token.ErrMintNotFound),
		errors.Is(err, token.ErrMintExists),
		errors.Is(err, token.ErrInvalidAmount):
		return ClassValidation
	case errors.Is(err, ErrCliffNotPassed), errors.Is(err, ErrNothingToRelease):
		return ClassTiming
	case errors.Is(err, ErrFullyVested):
		return ClassExhausted
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, token.ErrAccountNotFound),
		errors.Is(err, token.ErrAccountMismatch),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrSupplyOverflow),
		errors.Is(err, custody.ErrAuthorityMismatch):
		return ClassTransfer
	default:
		return ClassInternal
	}
}
