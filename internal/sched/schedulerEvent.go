// internal/sched/schedulerEvent.go

package sched

import (
	"edfsim/internal/kernel"
)

// StatusKind represents the type of status event
type StatusKind int

const (
	StatusArrival  StatusKind = iota // new instance entered the ready set
	StatusDeadline                   // deadline elapsed and was met
	StatusMiss                       // deadline elapsed while the task still ran
	StatusRestart                    // overrun instance discarded
	StatusReap                       // sporadic task deleted
	StatusActivate
	StatusPriority // priority tier changed
	StatusClamp    // tier fell below the priority floor
	StatusAdmit
	StatusReject
	StatusStart
	StatusFinish
	StatusError
)

// StatusEvent is emitted on every state change the core makes.
type StatusEvent struct {
	Time     kernel.Timespec
	Kind     StatusKind
	TaskID   kernel.TaskID
	Task     string
	Deadline kernel.Timespec
	Priority kernel.Priority
	Detail   string
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusArrival:
		return "Arrival"
	case StatusDeadline:
		return "Deadline"
	case StatusMiss:
		return "Miss"
	case StatusRestart:
		return "Restart"
	case StatusReap:
		return "Reap"
	case StatusActivate:
		return "Activate"
	case StatusPriority:
		return "Priority"
	case StatusClamp:
		return "Clamp"
	case StatusAdmit:
		return "Admit"
	case StatusReject:
		return "Reject"
	case StatusStart:
		return "Start"
	case StatusFinish:
		return "Finish"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Sink consumes status events. Record must not block.
type Sink interface {
	Record(ev StatusEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev StatusEvent)

func (f SinkFunc) Record(ev StatusEvent) { f(ev) }

type discard struct{}

func (discard) Record(StatusEvent) {}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}
