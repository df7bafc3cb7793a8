package sched

import (
	"bytes"
	"errors"
	"testing"

	"edfsim/internal/kernel"
)

type muxFixture struct {
	k    *fakeKernel
	reg  *Registry
	q    *EventQueue
	mux  *Multiplexer
	wake kernel.TaskID
	a, b kernel.TaskID
	log  *bytes.Buffer
}

// newMuxFixture registers A{4,1} and B{6,2} and starts the multiplexer.
func newMuxFixture(t *testing.T) *muxFixture {
	t.Helper()
	f := &muxFixture{k: newFakeKernel(), log: &bytes.Buffer{}}
	logger := testLogger(f.log)
	f.reg = NewRegistry(testLimits(), f.k, nopBodies, 255, logger)

	var err error
	if f.a, err = f.reg.RegisterPeriodic(4, 1); err != nil {
		t.Fatal(err)
	}
	if f.b, err = f.reg.RegisterPeriodic(6, 2); err != nil {
		t.Fatal(err)
	}
	f.wake, _ = f.k.CreateTask("scheduler", 103, nopBody{})

	f.q = NewEventQueue(2 * f.reg.Limits().ReadyCapacity())
	f.mux = NewMultiplexer(f.reg, f.q, f.k, Discard, logger)
	f.mux.SetWake(f.wake)
	if err := f.mux.Start(); err != nil {
		t.Fatal(err)
	}
	return f
}

func ev(id kernel.TaskID, tk TaskKind, kind EventKind, dl int64) TimeEvent {
	return TimeEvent{TaskID: id, TaskKind: tk, Kind: kind, Deadline: kernel.Seconds(dl)}
}

func TestMultiplexerStartArmsAtNow(t *testing.T) {
	f := newMuxFixture(t)
	if !f.k.timerArmed || f.k.timerAt != (kernel.Timespec{}) {
		t.Fatalf("timer armed=%v at %v, want armed at 0", f.k.timerArmed, f.k.timerAt)
	}
	for i, mk := range f.mux.Markers() {
		if !mk.Pending() || mk.Released {
			t.Errorf("marker %d = %+v, want pending and unreleased", i, mk)
		}
	}
}

func TestMultiplexerEventOrder(t *testing.T) {
	f := newMuxFixture(t)
	steps := []struct {
		at   int64
		want []TimeEvent
		next int64
	}{
		{0, []TimeEvent{
			ev(f.a, TaskPeriodic, EventArrival, 4),
			ev(f.b, TaskPeriodic, EventArrival, 6),
		}, 4},
		{4, []TimeEvent{
			ev(f.a, TaskPeriodic, EventDeadline, 4),
			ev(f.a, TaskPeriodic, EventArrival, 8),
		}, 6},
		{6, []TimeEvent{
			ev(f.b, TaskPeriodic, EventDeadline, 6),
			ev(f.b, TaskPeriodic, EventArrival, 12),
		}, 8},
		{8, []TimeEvent{
			ev(f.a, TaskPeriodic, EventDeadline, 8),
			ev(f.a, TaskPeriodic, EventArrival, 12),
		}, 12},
		{12, []TimeEvent{
			ev(f.a, TaskPeriodic, EventDeadline, 12),
			ev(f.a, TaskPeriodic, EventArrival, 16),
			ev(f.b, TaskPeriodic, EventDeadline, 12),
			ev(f.b, TaskPeriodic, EventArrival, 18),
		}, 16},
	}

	for i, step := range steps {
		at := f.k.fire()
		if at != kernel.Seconds(step.at) {
			t.Fatalf("step %d: fired at %v, want %ds", i, at, step.at)
		}
		got := drainAll(f.q)
		if len(got) != len(step.want) {
			t.Fatalf("step %d: got %d events %+v, want %+v", i, len(got), got, step.want)
		}
		for j := range got {
			if got[j] != step.want[j] {
				t.Errorf("step %d event %d = %+v, want %+v", i, j, got[j], step.want[j])
			}
		}
		if f.mux.Next() != kernel.Seconds(step.next) || f.k.timerAt != kernel.Seconds(step.next) {
			t.Errorf("step %d: next expiry %v, want %ds", i, f.mux.Next(), step.next)
		}
	}

	if n := f.k.activates[f.wake]; n != len(steps) {
		t.Errorf("scheduler woken %d times, want %d", n, len(steps))
	}
}

func TestMultiplexerOnlyDueMarkersReady(t *testing.T) {
	f := newMuxFixture(t)
	f.k.fire() // t=0
	mk := f.mux.Markers()
	if !mk[0].Pending() || mk[1].Pending() {
		t.Fatalf("markers = %+v, want only A pending at 4", mk)
	}
	if mk[0].At != kernel.Seconds(4) || mk[1].At != kernel.Seconds(6) {
		t.Fatalf("marker times = %v, %v", mk[0].At, mk[1].At)
	}
}

func TestMultiplexerSporadicDeadlineOnce(t *testing.T) {
	f := newMuxFixture(t)
	f.k.fire() // t=0
	drainAll(f.q)

	f.reg.mu.Lock()
	f.reg.sporadic[0] = SporadicSlot{ID: 99, Name: "sporadic-1", ExecTime: 1, Deadline: kernel.Seconds(5), State: QueueWaiting}
	f.mux.rescheduleLocked()
	f.reg.mu.Unlock()

	// A at 4 comes first, the slot stays waiting
	if f.mux.Next() != kernel.Seconds(4) {
		t.Fatalf("next = %v, want 4s", f.mux.Next())
	}
	f.k.fire()
	drainAll(f.q)
	if f.mux.Next() != kernel.Seconds(5) {
		t.Fatalf("next = %v, want 5s", f.mux.Next())
	}
	f.k.fire()
	got := drainAll(f.q)
	if len(got) != 1 || got[0] != ev(99, TaskSporadic, EventDeadline, 5) {
		t.Fatalf("events at 5s = %+v", got)
	}
	if s := f.reg.Sporadic()[0]; s.State != QueueQueued {
		t.Fatalf("slot state = %v, want Queued", s.State)
	}

	// a queued slot never becomes ready again
	for f.mux.Next().Before(kernel.Seconds(30)) {
		f.k.fire()
		for _, e := range drainAll(f.q) {
			if e.TaskID == 99 {
				t.Fatalf("sporadic event repeated at %v: %+v", f.k.Now(), e)
			}
		}
	}
}

func TestMultiplexerStop(t *testing.T) {
	f := newMuxFixture(t)
	if err := f.mux.Stop(); err != nil {
		t.Fatal(err)
	}
	if f.k.timerHandler != nil {
		t.Error("timer not deleted")
	}
	if err := f.mux.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestRegisterPeriodicAfterStart(t *testing.T) {
	f := newMuxFixture(t)
	tasks := len(f.k.tasks)
	if _, err := f.reg.RegisterPeriodic(10, 1); !errors.Is(err, ErrStarted) {
		t.Fatalf("err = %v, want ErrStarted", err)
	}
	if len(f.reg.Periodic()) != 2 || len(f.mux.Markers()) != 2 || len(f.k.tasks) != tasks {
		t.Error("late registration changed the tables")
	}
}
