package sched

import (
	"errors"
	"fmt"
)

var (
	// configuration errors
	ErrInvalidSpec         = errors.New("invalid task spec")
	ErrUtilizationExceeded = errors.New("utilization exceeded")
	ErrTooManyPeriodic     = errors.New("too many periodic tasks")
	ErrStarted             = errors.New("periodic set already started")

	// capacity errors
	ErrCapacityExceeded  = errors.New("too many pending sporadic tasks")
	ErrTooManyReadyTasks = errors.New("too many ready tasks")
	ErrServerDisabled    = errors.New("sporadic server disabled")

	// infrastructure errors
	ErrQueueFull    = errors.New("time event queue full")
	ErrWouldBlock   = errors.New("time event queue empty")
	ErrShortMessage = errors.New("short time event message")
	ErrUnknownEvent = errors.New("unknown time event")
)

// Rejected is returned when the server refuses a sporadic request.
type Rejected struct {
	ExecTime int
	Reason   error
}

func (r *Rejected) Error() string {
	return fmt.Sprintf("sporadic request (exec %ds) rejected: %v", r.ExecTime, r.Reason)
}

func (r *Rejected) Unwrap() error { return r.Reason }
