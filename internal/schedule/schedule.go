// Package schedule computes vesting entitlement as a pure function of a record
// and a clock reading.
package schedule

import (
	"math/bits"

	"solana-token-vesting/internal/domain"
)

// TotalWeeks returns the number of whole weeks in [start, end). Zero when end <= start.
func TotalWeeks(start, end int64) uint64 {
	if end <= start {
		return 0
	}
	return (uint64(end) - uint64(start)) / domain.SecondsPerWeek
}

// WeeksElapsed returns whole weeks since start, zero at or before start.
func WeeksElapsed(start, now int64) uint64 {
	if now <= start {
		return 0
	}
	return (uint64(now) - uint64(start)) / domain.SecondsPerWeek
}

// EntitledToDate returns the cumulative amount owed to the receiver at now.
// It never exceeds r.TotalAmount and is non-decreasing in now.
func EntitledToDate(r *domain.VestingRecord, now int64) uint64 {
	if now <= r.StartTime || r.TotalAmount == 0 {
		return 0
	}

	switch r.Shape {
	case domain.ShapeContinuousLinear:
		if now >= r.EndTime {
			return r.TotalAmount
		}
		elapsed := uint64(now) - uint64(r.StartTime)
		return mulDiv(r.TotalAmount, elapsed, r.Duration())

	case domain.ShapeSteppedWeekly:
		if r.TotalWeeks == 0 {
			return 0
		}
		weeks := WeeksElapsed(r.StartTime, now)
		if weeks >= r.TotalWeeks {
			return r.TotalAmount
		}
		return mulDiv(r.TotalAmount, weeks, r.TotalWeeks)
	}

	return 0
}

// Releasable returns the entitled but not yet released amount at now.
// Saturates at zero if the ledger is ahead of the schedule.
func Releasable(r *domain.VestingRecord, now int64) uint64 {
	return SaturatingSub(EntitledToDate(r, now), r.ReleasedAmount)
}

// SaturatingSub returns a-b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// NextReleaseAt returns the earliest time after now at which EntitledToDate
// grows, or 0 if the schedule is already fully entitled.
func NextReleaseAt(r *domain.VestingRecord, now int64) int64 {
	entitled := EntitledToDate(r, now)
	if entitled >= r.TotalAmount {
		return 0
	}
	if now < r.StartTime {
		now = r.StartTime
	}

	switch r.Shape {
	case domain.ShapeSteppedWeekly:
		if r.TotalWeeks == 0 {
			return 0
		}
		// Smallest week w with floor(total*w/total_weeks) > entitled.
		hi, lo := bits.Mul64(entitled+1, r.TotalWeeks)
		w := ceilDiv128(hi, lo, r.TotalAmount)
		if cur := WeeksElapsed(r.StartTime, now); w <= cur {
			w = cur + 1
		}
		if w > r.TotalWeeks {
			w = r.TotalWeeks
		}
		return r.StartTime + int64(w*domain.SecondsPerWeek)

	case domain.ShapeContinuousLinear:
		// Smallest elapsed e with floor(total*e/duration) > entitled.
		hi, lo := bits.Mul64(entitled+1, r.Duration())
		at := r.StartTime + int64(ceilDiv128(hi, lo, r.TotalAmount))
		if at <= now {
			at = now + 1
		}
		if at > r.EndTime {
			at = r.EndTime
		}
		return at
	}
	return 0
}

// mulDiv returns floor(a*b/c) using a 128-bit intermediate. Requires b <= c and c > 0,
// which bounds the result by a.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return q
}

// ceilDiv128 returns ceil((hi:lo)/c), saturating at MaxUint64.
func ceilDiv128(hi, lo, c uint64) uint64 {
	if hi >= c {
		return ^uint64(0)
	}
	q, rem := bits.Div64(hi, lo, c)
	if rem != 0 {
		q++
	}
	return q
}
