// internal/sched/scheduler.go

package sched

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/emirpasic/gods/trees/redblacktree"

	"edfsim/internal/kernel"
)

// Scheduler implements earliest-deadline-first dispatch on top of a
// fixed-priority kernel. Each Pass drains the time events, orders the ready
// set by absolute deadline and maps that order onto priority tiers.
type Scheduler struct {
	tasks Tasks
	clock Clock
	queue *EventQueue
	sink  Sink

	ready []ReadyEntry       // fixed capacity, owned by Pass
	rbt   *redblacktree.Tree // ordering scratch, keyed by (deadline, position)
	base  kernel.Priority    // tier of rank 0; rank 1 is the most urgent task
	floor kernel.Priority    // least urgent tier handed out

	onReap func(kernel.TaskID) // called after a sporadic task is deleted

	log *slog.Logger
}

// NewScheduler creates a scheduler whose ready set holds capacity entries.
func NewScheduler(tasks Tasks, clock Clock, queue *EventQueue, capacity int, base, floor kernel.Priority, sink Sink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		clock: clock,
		queue: queue,
		sink:  sink,
		ready: make([]ReadyEntry, capacity),
		rbt:   redblacktree.NewWith(cmp),
		base:  base,
		floor: floor,
		log:   logger.With("component", "scheduler"),
	}
}

// OnReap registers fn to be called with the id of every reaped sporadic
// task.
func (s *Scheduler) OnReap(fn func(kernel.TaskID)) { s.onReap = fn }

// Ready returns a copy of the ready set in its current order.
func (s *Scheduler) Ready() []ReadyEntry {
	return append([]ReadyEntry(nil), s.ready...)
}

// Pass is one scheduler iteration. It never fails: every problem with a
// single event is logged and reported to the sink.
func (s *Scheduler) Pass() {
	s.drain()
	s.order()
	s.assign()
}

// drain consumes every buffered time event without blocking.
func (s *Scheduler) drain() {
	for s.queue.Len() > 0 {
		ev, err := s.queue.Receive()
		if err != nil {
			if !errors.Is(err, ErrWouldBlock) {
				s.report(0, "cannot receive time event", err)
			}
			return
		}
		s.log.Debug("time event received", "task_id", ev.TaskID, "kind", ev.TaskKind, "event", ev.Kind, "deadline", ev.Deadline.String())
		if err := s.handle(ev); err != nil {
			s.report(ev.TaskID, "time event dropped", err)
		}
	}
}

func (s *Scheduler) handle(ev TimeEvent) error {
	if ev.TaskKind != TaskPeriodic && ev.TaskKind != TaskSporadic {
		return fmt.Errorf("task kind %v: %w", ev.TaskKind, ErrUnknownEvent)
	}
	if ev.TaskID == 0 {
		return fmt.Errorf("event for task id 0: %w", ErrUnknownEvent)
	}
	switch ev.Kind {
	case EventDeadline:
		s.onDeadline(ev)
		return nil
	case EventArrival:
		return s.onArrival(ev)
	default:
		return fmt.Errorf("event kind %v: %w", ev.Kind, ErrUnknownEvent)
	}
}

// onDeadline checks whether the instance whose deadline just elapsed is
// still executing. A periodic overrun is discarded by restarting the task
// and leaving it suspended; a sporadic task is reaped either way.
func (s *Scheduler) onDeadline(ev TimeEvent) {
	id := ev.TaskID
	name := s.tasks.Name(id)
	now := s.clock.Now()

	if !s.tasks.Exists(id) {
		s.log.Debug("deadline of vanished task", "task_id", id)
		return
	}

	if !s.tasks.IsSuspended(id) {
		s.log.Warn("task missed deadline", "task", name, "task_id", id, "deadline", ev.Deadline.String())
		s.sink.Record(StatusEvent{Time: now, Kind: StatusMiss, TaskID: id, Task: name, Deadline: ev.Deadline})
		if ev.TaskKind == TaskPeriodic {
			if err := s.tasks.Restart(id); err != nil {
				s.report(id, "cannot restart task", err)
			}
			if err := s.tasks.Suspend(id); err != nil {
				s.report(id, "cannot suspend task", err)
			}
			s.sink.Record(StatusEvent{Time: now, Kind: StatusRestart, TaskID: id, Task: name, Deadline: ev.Deadline})
		}
	} else {
		s.sink.Record(StatusEvent{Time: now, Kind: StatusDeadline, TaskID: id, Task: name, Deadline: ev.Deadline})
	}

	if ev.TaskKind == TaskSporadic {
		if err := s.tasks.DeleteTask(id); err != nil {
			s.report(id, "cannot delete sporadic task", err)
			return
		}
		if s.onReap != nil {
			s.onReap(id)
		}
		s.log.Debug("sporadic task reaped", "task", name, "task_id", id)
		s.sink.Record(StatusEvent{Time: now, Kind: StatusReap, TaskID: id, Task: name})
	}
}

// onArrival upserts the ready entry of ev.TaskID. Entries of vanished
// tasks are reclaimed while scanning.
func (s *Scheduler) onArrival(ev TimeEvent) error {
	if !s.tasks.Exists(ev.TaskID) {
		s.log.Debug("arrival of vanished task", "task_id", ev.TaskID, "deadline", ev.Deadline.String())
		return nil
	}
	found, free := -1, -1
	for j := range s.ready {
		e := &s.ready[j]
		switch {
		case e.ID == ev.TaskID:
			found = j
		case e.ID != 0 && !s.tasks.Exists(e.ID):
			s.log.Debug("ready entry reclaimed", "task_id", e.ID)
			*e = ReadyEntry{}
			fallthrough
		case e.ID == 0:
			if free < 0 {
				free = j
			}
		}
	}

	idx := found
	if idx < 0 {
		if free < 0 {
			return fmt.Errorf("task %s cannot be scheduled (%d entries): %w", s.tasks.Name(ev.TaskID), len(s.ready), ErrTooManyReadyTasks)
		}
		idx = free
	}
	s.ready[idx] = ReadyEntry{ID: ev.TaskID, Deadline: ev.Deadline}
	s.sink.Record(StatusEvent{
		Time:     s.clock.Now(),
		Kind:     StatusArrival,
		TaskID:   ev.TaskID,
		Task:     s.tasks.Name(ev.TaskID),
		Deadline: ev.Deadline,
	})
	return nil
}

// order sorts the ready set by ascending deadline. Equal deadlines keep
// their array order; empty entries move to the back.
func (s *Scheduler) order() {
	s.rbt.Clear()
	for j, e := range s.ready {
		if e.ID == 0 {
			continue
		}
		s.rbt.Put(nodeKey{deadline: e.Deadline, pos: j}, e)
	}

	i := 0
	it := s.rbt.Iterator()
	for it.Next() {
		s.ready[i] = it.Value().(ReadyEntry)
		i++
	}
	for ; i < len(s.ready); i++ {
		s.ready[i] = ReadyEntry{}
	}
}

// assign hands out tiers base+1, base+2, ... in deadline order and
// activates every entry not yet scheduled. The priority primitive is only
// called when a tier changes.
func (s *Scheduler) assign() {
	rank := 1
	clamped := 0
	for i := range s.ready {
		e := &s.ready[i]
		if e.ID == 0 || !s.tasks.Exists(e.ID) {
			continue
		}

		prio := s.base + kernel.Priority(rank)
		if prio > s.floor {
			prio = s.floor
			clamped++
		}
		old, err := s.tasks.Priority(e.ID)
		if err != nil {
			s.report(e.ID, "cannot read priority", err)
			continue
		}
		if old != prio {
			if err := s.tasks.SetPriority(e.ID, prio); err != nil {
				s.report(e.ID, "cannot set priority", err)
			} else {
				s.log.Debug("priority changed", "task", s.tasks.Name(e.ID), "task_id", e.ID, "priority", prio)
				s.sink.Record(StatusEvent{Time: s.clock.Now(), Kind: StatusPriority, TaskID: e.ID, Task: s.tasks.Name(e.ID), Deadline: e.Deadline, Priority: prio})
			}
		}

		if !e.Scheduled {
			if err := s.tasks.Activate(e.ID); err != nil {
				s.report(e.ID, "cannot activate task", err)
			} else {
				e.Scheduled = true
				s.log.Info("task activated", "task", s.tasks.Name(e.ID), "task_id", e.ID, "deadline", e.Deadline.String())
				s.sink.Record(StatusEvent{Time: s.clock.Now(), Kind: StatusActivate, TaskID: e.ID, Task: s.tasks.Name(e.ID), Deadline: e.Deadline, Priority: prio})
			}
		}
		rank++
	}

	if clamped > 0 {
		s.log.Warn("min priority reached", "floor", s.floor, "tasks_at_floor", clamped)
		s.sink.Record(StatusEvent{Time: s.clock.Now(), Kind: StatusClamp, Priority: s.floor, Detail: fmt.Sprintf("%d tasks clamped", clamped)})
	}
}

func (s *Scheduler) report(id kernel.TaskID, msg string, err error) {
	s.log.Error(msg, "task_id", id, "error", err)
	s.sink.Record(StatusEvent{Time: s.clock.Now(), Kind: StatusError, TaskID: id, Task: s.tasks.Name(id), Detail: err.Error()})
}

// nodeKey is used as a key in the red-black tree.
type nodeKey struct {
	deadline kernel.Timespec
	pos      int
}

// cmp orders nodeKeys by deadline, then by array position.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	if c := ka.deadline.Compare(kb.deadline); c != 0 {
		return c
	}
	switch {
	case ka.pos < kb.pos:
		return -1
	case ka.pos > kb.pos:
		return 1
	default:
		return 0
	}
}
