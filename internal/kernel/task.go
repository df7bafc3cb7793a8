// internal/kernel/task.go

package kernel

import "time"

// TaskID uniquely identifies a task in the kernel. Zero is never a valid id.
type TaskID int32

// Priority orders ready tasks. Lower numbers run first.
type Priority int

const (
	HighestPriority Priority = 0
	LowestPriority  Priority = 255
)

// RunContext describes one dispatch of a task body.
type RunContext struct {
	Task  TaskID
	Name  string
	Now   Timespec      // virtual time at dispatch
	Slice time.Duration // CPU time available before the next timer or stimulus
}

// Body is the code a task executes when it holds the CPU.
//
// Run consumes at most rc.Slice of CPU time and reports how much it used.
// When done is true the task suspends itself; its next activation calls Run
// again where the body left off. Reset rewinds the body to its entry point.
type Body interface {
	Run(rc RunContext) (used time.Duration, done bool)
	Reset()
}

// Func is a control body that runs to completion in zero virtual time and
// then suspends itself.
type Func func()

func (f Func) Run(RunContext) (time.Duration, bool) {
	f()
	return 0, true
}

func (Func) Reset() {}

// task is one schedulable unit of the kernel.
type task struct {
	id    TaskID
	name  string
	prio  Priority
	ready bool
	seq   uint64 // readiness order, FIFO within a priority level
	body  Body
}

// clampPriority keeps p within the legal region.
func clampPriority(p Priority) Priority {
	if p < HighestPriority {
		return HighestPriority
	} else if p > LowestPriority {
		return LowestPriority
	}
	return p
}
