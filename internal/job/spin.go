package job

import (
	"log/slog"
	"time"

	"edfsim/internal/kernel"
)

// Phase marks a point in the life of one job instance.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseFinish
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "Start"
	case PhaseFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}

// Observer is told when an instance starts executing and when it finishes.
type Observer func(id kernel.TaskID, name string, phase Phase, at kernel.Timespec)

// Spin is a worker body that keeps the CPU busy for its execution time and
// then suspends itself. Every activation after a finish runs a fresh instance.
type Spin struct {
	exec      time.Duration
	remaining time.Duration
	started   bool
	log       *slog.Logger
	observe   Observer
}

// SpinWork returns a body that busy-works for exec per activation.
// observe may be nil.
func SpinWork(exec time.Duration, logger *slog.Logger, observe Observer) *Spin {
	return &Spin{
		exec:      exec,
		remaining: exec,
		log:       logger,
		observe:   observe,
	}
}

// Remaining returns the CPU time the current instance still needs.
func (s *Spin) Remaining() time.Duration { return s.remaining }

func (s *Spin) Run(rc kernel.RunContext) (time.Duration, bool) {
	if !s.started {
		s.started = true
		s.log.Info("execution started", "component", rc.Name, "task_id", rc.Task)
		if s.observe != nil {
			s.observe(rc.Task, rc.Name, PhaseStart, rc.Now)
		}
	}

	if s.remaining > rc.Slice {
		s.remaining -= rc.Slice
		return rc.Slice, false
	}

	// the instance is done: rewind for the next activation
	used := s.remaining
	s.remaining = s.exec
	s.started = false
	at := rc.Now.Add(used)
	s.log.Info("execution finished", "component", rc.Name, "task_id", rc.Task)
	if s.observe != nil {
		s.observe(rc.Task, rc.Name, PhaseFinish, at)
	}
	return used, true
}

// Reset abandons the current instance.
func (s *Spin) Reset() {
	s.remaining = s.exec
	s.started = false
}
