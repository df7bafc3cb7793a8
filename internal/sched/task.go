package sched

import (
	"fmt"
	"time"

	"edfsim/internal/kernel"
)

// QueueState tracks where a task's next time event is in its life cycle.
type QueueState int

const (
	QueueWaiting QueueState = iota // waiting for its quantum
	QueueReady                     // due at the armed timer expiry
	QueueQueued                    // deadline sent, one-shot entries only
)

func (qs QueueState) String() string {
	switch qs {
	case QueueWaiting:
		return "Waiting"
	case QueueReady:
		return "Ready"
	case QueueQueued:
		return "Queued"
	default:
		return "Unknown"
	}
}

// PeriodicSpec describes one periodic workload. Immutable once registered.
type PeriodicSpec struct {
	ID       kernel.TaskID
	Name     string
	Period   int // seconds
	ExecTime int // seconds per instance
}

// Utilization returns ExecTime/Period.
func (p PeriodicSpec) Utilization() float64 {
	return float64(p.ExecTime) / float64(p.Period)
}

// PeriodDuration returns the period as a time.Duration.
func (p PeriodicSpec) PeriodDuration() time.Duration {
	return time.Duration(p.Period) * time.Second
}

func (p PeriodicSpec) String() string {
	return fmt.Sprintf("%s{period=%ds exec=%ds}", p.Name, p.Period, p.ExecTime)
}

// SporadicSlot is one admission slot of the server. ID zero means empty.
type SporadicSlot struct {
	ID       kernel.TaskID
	Name     string
	ExecTime int
	Deadline kernel.Timespec
	State    QueueState
}

// Empty reports whether the slot holds no task.
func (s SporadicSlot) Empty() bool { return s.ID == 0 }

// PendingMarker is the timer's view of a periodic task: the time of its
// next event and whether that event is due at the armed expiry.
type PendingMarker struct {
	State    QueueState
	At       kernel.Timespec
	Released bool // at least one instance has arrived
}

// Pending reports whether the marker is due at the armed expiry.
func (m PendingMarker) Pending() bool { return m.State == QueueReady }

// ReadyEntry is one row of the scheduler's ready set.
type ReadyEntry struct {
	ID        kernel.TaskID
	Deadline  kernel.Timespec
	Scheduled bool // activated since its last arrival
}

// secondsToDuration converts a fractional number of seconds.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
