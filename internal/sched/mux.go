package sched

import (
	"fmt"
	"log/slog"

	"edfsim/internal/kernel"
)

// Multiplexer turns per-task release and deadline times into TimeEvents
// using a single one-shot timer. Fire is the timer's expiry routine: it
// only touches the pending markers, the sporadic slots and the event queue,
// then wakes the scheduler.
type Multiplexer struct {
	reg     *Registry
	markers []PendingMarker // parallel to reg.periodic
	queue   *EventQueue
	timers  Timers
	clock   Clock
	tasks   Tasks
	sink    Sink

	timer kernel.TimerID
	wake  kernel.TaskID   // task activated after every expiry
	next  kernel.Timespec // armed expiry, zero when disarmed

	log *slog.Logger
}

// NewMultiplexer creates a multiplexer feeding queue. wake is the task
// activated after each firing; it may be set later with SetWake.
func NewMultiplexer(reg *Registry, queue *EventQueue, k Kernel, sink Sink, logger *slog.Logger) *Multiplexer {
	return &Multiplexer{
		reg:    reg,
		queue:  queue,
		timers: k,
		clock:  k,
		tasks:  k,
		sink:   sink,
		log:    logger.With("component", "timer"),
	}
}

// SetWake sets the task activated after every firing.
func (m *Multiplexer) SetWake(id kernel.TaskID) { m.wake = id }

// Start creates the timer and arms it at the current time so every
// registered periodic task receives its first arrival immediately.
func (m *Multiplexer) Start() error {
	id, err := m.timers.CreateTimer(m.Fire)
	if err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	m.timer = id

	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()

	m.reg.started = true
	now := m.clock.Now()
	m.markers = make([]PendingMarker, len(m.reg.periodic), m.reg.limits.MaxPeriodic)
	for i := range m.markers {
		m.markers[i] = PendingMarker{State: QueueReady, At: now}
	}
	return m.armLocked(now)
}

// Stop deletes the timer.
func (m *Multiplexer) Stop() error {
	if m.timer == 0 {
		return nil
	}
	err := m.timers.DeleteTimer(m.timer)
	m.timer = 0
	return err
}

// Next returns the armed expiry, or the zero Timespec when disarmed.
func (m *Multiplexer) Next() kernel.Timespec {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.next
}

// Markers returns a copy of the periodic pending markers.
func (m *Multiplexer) Markers() []PendingMarker {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return append([]PendingMarker(nil), m.markers...)
}

// Fire is the timer expiry routine.
func (m *Multiplexer) Fire() {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()

	m.next = kernel.Timespec{}

	// periodic: check the previous instance, then release the next one
	for i := range m.markers {
		p, mk := m.reg.periodic[i], &m.markers[i]
		if mk.State != QueueReady {
			continue
		}
		if mk.Released {
			m.sendLocked(TimeEvent{TaskID: p.ID, TaskKind: TaskPeriodic, Kind: EventDeadline, Deadline: mk.At})
		}
		mk.At = mk.At.Add(p.PeriodDuration())
		mk.Released = true
		mk.State = QueueWaiting
		m.sendLocked(TimeEvent{TaskID: p.ID, TaskKind: TaskPeriodic, Kind: EventArrival, Deadline: mk.At})
	}

	// sporadic: one-shot deadline check
	for i := range m.reg.sporadic {
		s := &m.reg.sporadic[i]
		if s.State != QueueReady {
			continue
		}
		m.sendLocked(TimeEvent{TaskID: s.ID, TaskKind: TaskSporadic, Kind: EventDeadline, Deadline: s.Deadline})
		s.State = QueueQueued
	}

	m.signal()
	m.rescheduleLocked()
}

// sendLocked enqueues ev. A full queue is reported, never dropped silently.
func (m *Multiplexer) sendLocked(ev TimeEvent) error {
	if err := m.queue.Send(ev); err != nil {
		m.log.Error("cannot send time event", "task_id", ev.TaskID, "event", ev.Kind, "deadline", ev.Deadline.String(), "error", err)
		m.sink.Record(StatusEvent{Time: m.clock.Now(), Kind: StatusError, TaskID: ev.TaskID, Deadline: ev.Deadline, Detail: err.Error()})
		return err
	}
	m.log.Debug("time event queued", "task_id", ev.TaskID, "kind", ev.TaskKind, "event", ev.Kind, "deadline", ev.Deadline.String())
	return nil
}

// signal wakes the scheduler. Waking a ready scheduler coalesces.
func (m *Multiplexer) signal() {
	if m.wake == 0 {
		return
	}
	if err := m.tasks.Activate(m.wake); err != nil {
		m.log.Error("cannot activate scheduler", "error", err)
	}
}

// rescheduleLocked arms the timer at the earliest pending time and marks
// every entry due at that time.
func (m *Multiplexer) rescheduleLocked() {
	var (
		next kernel.Timespec
		have bool
	)
	earlier := func(at kernel.Timespec) {
		if !have || at.Before(next) {
			next, have = at, true
		}
	}
	for _, mk := range m.markers {
		earlier(mk.At)
	}
	for _, s := range m.reg.sporadic {
		if !s.Empty() && s.State != QueueQueued {
			earlier(s.Deadline)
		}
	}

	for i := range m.markers {
		mk := &m.markers[i]
		mk.State = QueueWaiting
		if have && mk.At == next {
			mk.State = QueueReady
		}
	}
	for i := range m.reg.sporadic {
		s := &m.reg.sporadic[i]
		if s.Empty() || s.State == QueueQueued {
			continue
		}
		s.State = QueueWaiting
		if have && s.Deadline == next {
			s.State = QueueReady
		}
	}

	if !have {
		m.log.Debug("no pending time events, timer left disarmed")
		return
	}
	_ = m.armLocked(next)
}

func (m *Multiplexer) armLocked(at kernel.Timespec) error {
	if err := m.timers.ArmTimer(m.timer, at); err != nil {
		m.log.Error("set timer", "at", at.String(), "error", err)
		m.sink.Record(StatusEvent{Time: m.clock.Now(), Kind: StatusError, Deadline: at, Detail: err.Error()})
		return fmt.Errorf("arm timer at %v: %w", at, err)
	}
	m.next = at
	m.log.Debug("timer set", "at", at.String())
	return nil
}
