package domain

// EventType classifies committed vesting operations.
type EventType string

const (
	EventTypeLock    EventType = "LOCK"
	EventTypeRelease EventType = "RELEASE"
)

// VestingEvent is an append-only audit entry emitted after a Lock or Unlock commits.
// Corresponds to the vesting_events table in ClickHouse.
type VestingEvent struct {
	EventID        string    // deterministic hash, see idhash.ComputeEventID
	Type           EventType // LOCK | RELEASE
	Receiver       string
	Mint           string
	Signer         string // authenticated caller
	Amount         uint64 // deposited (LOCK) or released (RELEASE)
	ReleasedAmount uint64 // record's released_amount after the operation
	TotalAmount    uint64
	Shape          ScheduleShape
	Timestamp      int64 // clock reading for the operation (unix seconds)
}
