package sched

import "edfsim/internal/kernel"

// Tasks is the task-control surface the core drives. Lower priority
// numbers run first.
type Tasks interface {
	CreateTask(name string, prio kernel.Priority, body kernel.Body) (kernel.TaskID, error)
	DeleteTask(id kernel.TaskID) error
	Activate(id kernel.TaskID) error
	Suspend(id kernel.TaskID) error
	Restart(id kernel.TaskID) error
	IsSuspended(id kernel.TaskID) bool
	Exists(id kernel.TaskID) bool
	SetPriority(id kernel.TaskID, prio kernel.Priority) error
	Priority(id kernel.TaskID) (kernel.Priority, error)
	Name(id kernel.TaskID) string
}

// Clock reads and sets the system time.
type Clock interface {
	Now() kernel.Timespec
	SetClock(ts kernel.Timespec)
}

// Timers provides one-shot absolute timers whose expiry routine runs
// asynchronously to every task.
type Timers interface {
	CreateTimer(handler func()) (kernel.TimerID, error)
	ArmTimer(id kernel.TimerID, at kernel.Timespec) error
	DeleteTimer(id kernel.TimerID) error
}

// Kernel bundles every capability the system needs. *kernel.Sim satisfies it.
type Kernel interface {
	Tasks
	Clock
	Timers
}

var _ Kernel = (*kernel.Sim)(nil)
