package kernel

import (
	"fmt"
	"math"
	"time"
)

// Timespec is an absolute point on the virtual clock, split into seconds
// and nanoseconds like a POSIX timespec. The zero value means "unset".
type Timespec struct {
	Sec  int64
	Nsec int64
}

// FromDuration converts an offset from the clock origin into a Timespec.
func FromDuration(d time.Duration) Timespec {
	return Timespec{
		Sec:  int64(d / time.Second),
		Nsec: int64(d % time.Second),
	}.normalize()
}

// Seconds returns a Timespec for a whole number of seconds.
func Seconds(s int64) Timespec { return Timespec{Sec: s} }

func (t Timespec) normalize() Timespec {
	if t.Nsec >= int64(time.Second) || t.Nsec <= -int64(time.Second) {
		t.Sec += t.Nsec / int64(time.Second)
		t.Nsec %= int64(time.Second)
	}
	if t.Nsec < 0 {
		t.Sec--
		t.Nsec += int64(time.Second)
	}
	return t
}

// Duration returns the offset of t from the clock origin.
func (t Timespec) Duration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Nsec)
}

// Add returns t+d.
func (t Timespec) Add(d time.Duration) Timespec {
	return Timespec{
		Sec:  t.Sec + int64(d/time.Second),
		Nsec: t.Nsec + int64(d%time.Second),
	}.normalize()
}

// Never is later than any instant a run can reach.
var Never = Timespec{Sec: math.MaxInt64 / 2}

// AddSeconds returns t plus s fractional seconds, saturating at Never.
// s must not be negative.
func (t Timespec) AddSeconds(s float64) Timespec {
	whole, frac := math.Modf(s)
	if math.IsNaN(s) || whole >= float64(Never.Sec-t.Sec) {
		return Never
	}
	return Timespec{
		Sec:  t.Sec + int64(whole),
		Nsec: t.Nsec + int64(math.Round(frac*float64(time.Second))),
	}.normalize()
}

// Sub returns the duration t-u.
func (t Timespec) Sub(u Timespec) time.Duration {
	return t.Duration() - u.Duration()
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or after u.
func (t Timespec) Compare(u Timespec) int {
	switch {
	case t.Sec < u.Sec:
		return -1
	case t.Sec > u.Sec:
		return 1
	case t.Nsec < u.Nsec:
		return -1
	case t.Nsec > u.Nsec:
		return 1
	default:
		return 0
	}
}

// Before reports whether t is strictly earlier than u.
func (t Timespec) Before(u Timespec) bool { return t.Compare(u) < 0 }

// After reports whether t is strictly later than u.
func (t Timespec) After(u Timespec) bool { return t.Compare(u) > 0 }

// IsZero reports whether t is unset.
func (t Timespec) IsZero() bool { return t.Sec == 0 && t.Nsec == 0 }

// String formats t as "0004s 250ms".
func (t Timespec) String() string {
	return fmt.Sprintf("%04ds %03dms", t.Sec, t.Nsec/int64(time.Millisecond))
}

// Max returns the later of a and b.
func Max(a, b Timespec) Timespec {
	if a.Before(b) {
		return b
	}
	return a
}
