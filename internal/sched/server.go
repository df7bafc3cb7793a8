package sched

import (
	"fmt"
	"log/slog"

	"edfsim/internal/kernel"
)

// Server admits sporadic requests. It spreads consecutive admissions so
// their aggregate demand stays within the reserved utilization bound.
type Server struct {
	reg     *Registry
	mux     *Multiplexer
	clock   Clock
	tasks   Tasks
	sink    Sink
	bound   float64 // fraction of the CPU reserved for sporadic work
	enabled bool

	log *slog.Logger
}

// NewServer creates a server reserving bound of the CPU. A disabled server
// rejects every request with ErrServerDisabled.
func NewServer(reg *Registry, mux *Multiplexer, k Kernel, bound float64, enabled bool, sink Sink, logger *slog.Logger) *Server {
	return &Server{
		reg:     reg,
		mux:     mux,
		clock:   k,
		tasks:   k,
		sink:    sink,
		bound:   bound,
		enabled: enabled && bound > 0 && bound <= 1,
		log:     logger.With("component", "server"),
	}
}

// Bound returns the reserved utilization.
func (s *Server) Bound() float64 { return s.bound }

// Enabled reports whether the server admits requests.
func (s *Server) Enabled() bool { return s.enabled }

// SporadicDeadline returns last + exec/bound. Deadlines past the range of
// the clock saturate at kernel.Never.
func SporadicDeadline(last kernel.Timespec, exec int, bound float64) kernel.Timespec {
	return last.AddSeconds(float64(exec) / bound)
}

// Submit admits a sporadic task needing exec seconds of CPU time. It fails
// with a *Rejected when no slot is free or the server is disabled, and with
// ErrInvalidSpec when exec is out of range. A rejection leaves the tables
// untouched.
func (s *Server) Submit(exec int) (kernel.TaskID, error) {
	if !s.enabled {
		s.reject(exec, ErrServerDisabled)
		return 0, &Rejected{ExecTime: exec, Reason: ErrServerDisabled}
	}
	if limit := s.reg.limits.MaxPeriod; exec < 1 || exec > limit {
		return 0, fmt.Errorf("sporadic execution time %ds not in [1, %d]: %w", exec, limit, ErrInvalidSpec)
	}

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	idx := s.reg.freeSlotLocked()
	if idx < 0 {
		s.log.Warn("too many pending sporadic tasks, request rejected", "exec_s", exec, "slots", len(s.reg.sporadic))
		s.reject(exec, ErrCapacityExceeded)
		return 0, &Rejected{ExecTime: exec, Reason: ErrCapacityExceeded}
	}

	now := s.clock.Now()
	name := fmt.Sprintf("sporadic-%d", s.reg.admitted+1)
	id, err := s.reg.spawnLocked(name, exec)
	if err != nil {
		return 0, err
	}

	last := kernel.Max(s.reg.lastSporadic, now)
	dl := SporadicDeadline(last, exec, s.bound)

	ev := TimeEvent{TaskID: id, TaskKind: TaskSporadic, Kind: EventArrival, Deadline: dl}
	if err := s.mux.sendLocked(ev); err != nil {
		// without its arrival the task could never run; undo the admission
		_ = s.tasks.DeleteTask(id)
		return 0, fmt.Errorf("admit %s: %w", name, err)
	}

	s.reg.admitted++
	s.reg.lastSporadic = dl
	s.reg.sporadic[idx] = SporadicSlot{ID: id, Name: name, ExecTime: exec, Deadline: dl, State: QueueWaiting}
	s.log.Debug("sporadic task admitted", "task", name, "id", id, "deadline", dl.String(), "slot", idx)
	s.sink.Record(StatusEvent{Time: now, Kind: StatusAdmit, TaskID: id, Task: name, Deadline: dl})

	s.mux.rescheduleLocked()
	s.mux.signal()
	return id, nil
}

func (s *Server) reject(exec int, reason error) {
	s.sink.Record(StatusEvent{
		Time:   s.clock.Now(),
		Kind:   StatusReject,
		Detail: fmt.Sprintf("exec=%ds: %v", exec, reason),
	})
}
