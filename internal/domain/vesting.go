package domain

// SecondsPerWeek is the step length of stepped-weekly schedules.
const SecondsPerWeek = 604800

// ScheduleShape selects the release function of a vesting record.
type ScheduleShape string

const (
	// ShapeSteppedWeekly releases in discrete whole-week steps.
	ShapeSteppedWeekly ScheduleShape = "STEPPED_WEEKLY"
	// ShapeContinuousLinear releases proportionally to elapsed seconds.
	ShapeContinuousLinear ScheduleShape = "CONTINUOUS_LINEAR"
)

// String returns the string representation of ScheduleShape.
func (s ScheduleShape) String() string {
	return string(s)
}

// IsValid checks if the shape is a known value.
func (s ScheduleShape) IsValid() bool {
	return s == ShapeSteppedWeekly || s == ShapeContinuousLinear
}

// VestingRecord is the schedule and release ledger for one (receiver, mint) pair.
// Corresponds to the vesting_records table.
type VestingRecord struct {
	Address   string // record PDA: ["vault_info", receiver, mint]
	Receiver  string // beneficiary wallet address
	Mint      string // asset mint address
	Depositor string // wallet that funded the lock
	Custody   string // custody token account holding the deposit

	TotalAmount    uint64 // fixed at creation, > 0
	ReleasedAmount uint64 // monotonically non-decreasing, <= TotalAmount

	StartTime  int64 // unix seconds
	EndTime    int64 // unix seconds, > StartTime
	Shape      ScheduleShape
	TotalWeeks uint64 // (EndTime-StartTime)/SecondsPerWeek, stepped schedules only

	CreatedAt int64 // unix seconds, clock reading at lock
	UpdatedAt int64 // unix seconds, clock reading at last release
}

// Duration returns EndTime-StartTime in seconds. Callers must ensure EndTime > StartTime.
func (r *VestingRecord) Duration() uint64 {
	return uint64(r.EndTime) - uint64(r.StartTime)
}

// Remaining returns the amount still held in custody for this record.
func (r *VestingRecord) Remaining() uint64 {
	if r.ReleasedAmount >= r.TotalAmount {
		return 0
	}
	return r.TotalAmount - r.ReleasedAmount
}

// IsFullyVested reports whether every deposited unit has been released.
func (r *VestingRecord) IsFullyVested() bool {
	return r.ReleasedAmount >= r.TotalAmount
}

// RecordKey identifies a vesting record.
type RecordKey struct {
	Receiver string
	Mint     string
}

// Key returns the record's identity.
func (r *VestingRecord) Key() RecordKey {
	return RecordKey{Receiver: r.Receiver, Mint: r.Mint}
}

// String returns "receiver/mint".
func (k RecordKey) String() string {
	return k.Receiver + "/" + k.Mint
}
