package sched

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"edfsim/internal/kernel"
)

// fakeTask is one row of fakeKernel's task table.
type fakeTask struct {
	name      string
	prio      kernel.Priority
	suspended bool
	body      kernel.Body
}

// fakeKernel is a spy implementation of Kernel. Nothing runs; tests move
// the clock and fire the timer by hand.
type fakeKernel struct {
	mu     sync.Mutex
	now    kernel.Timespec
	nextID kernel.TaskID
	tasks  map[kernel.TaskID]*fakeTask

	timerHandler func()
	timerArmed   bool
	timerAt      kernel.Timespec
	armErr       error
	deleteErr    error

	activates map[kernel.TaskID]int
	restarts  map[kernel.TaskID]int
	suspends  map[kernel.TaskID]int
	setPrios  map[kernel.TaskID]int
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		tasks:     make(map[kernel.TaskID]*fakeTask),
		activates: make(map[kernel.TaskID]int),
		restarts:  make(map[kernel.TaskID]int),
		suspends:  make(map[kernel.TaskID]int),
		setPrios:  make(map[kernel.TaskID]int),
	}
}

func (f *fakeKernel) CreateTask(name string, prio kernel.Priority, body kernel.Body) (kernel.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.tasks[f.nextID] = &fakeTask{name: name, prio: prio, suspended: true, body: body}
	return f.nextID, nil
}

func (f *fakeKernel) get(id kernel.TaskID) (*fakeTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, kernel.ErrNoSuchTask)
	}
	return t, nil
}

func (f *fakeKernel) DeleteTask(id kernel.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(id); err != nil {
		return err
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeKernel) Activate(id kernel.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.get(id)
	if err != nil {
		return err
	}
	t.suspended = false
	f.activates[id]++
	return nil
}

func (f *fakeKernel) Suspend(id kernel.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.get(id)
	if err != nil {
		return err
	}
	t.suspended = true
	f.suspends[id]++
	return nil
}

func (f *fakeKernel) Restart(id kernel.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.get(id)
	if err != nil {
		return err
	}
	t.suspended = false
	f.restarts[id]++
	return nil
}

func (f *fakeKernel) IsSuspended(id kernel.TaskID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return ok && t.suspended
}

func (f *fakeKernel) Exists(id kernel.TaskID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[id]
	return ok
}

func (f *fakeKernel) SetPriority(id kernel.TaskID, prio kernel.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.get(id)
	if err != nil {
		return err
	}
	t.prio = prio
	f.setPrios[id]++
	return nil
}

func (f *fakeKernel) Priority(id kernel.TaskID) (kernel.Priority, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.get(id)
	if err != nil {
		return 0, err
	}
	return t.prio, nil
}

func (f *fakeKernel) Name(id kernel.TaskID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		return t.name
	}
	return ""
}

func (f *fakeKernel) Now() kernel.Timespec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeKernel) SetClock(ts kernel.Timespec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = ts
}

func (f *fakeKernel) CreateTimer(handler func()) (kernel.TimerID, error) {
	f.timerHandler = handler
	return 1, nil
}

func (f *fakeKernel) ArmTimer(id kernel.TimerID, at kernel.Timespec) error {
	if f.armErr != nil {
		return f.armErr
	}
	f.timerArmed = true
	f.timerAt = at
	return nil
}

func (f *fakeKernel) DeleteTimer(id kernel.TimerID) error {
	f.timerHandler = nil
	f.timerArmed = false
	return nil
}

// fire moves the clock to the armed expiry and runs the handler.
func (f *fakeKernel) fire() kernel.Timespec {
	at := f.timerAt
	f.SetClock(at)
	f.timerArmed = false
	f.timerHandler()
	return at
}

// nopBody never consumes CPU.
type nopBody struct{}

func (nopBody) Run(kernel.RunContext) (time.Duration, bool) { return 0, true }
func (nopBody) Reset()                                      {}

func nopBodies(string, time.Duration) kernel.Body { return nopBody{} }

// recorder collects status events.
type recorder struct {
	events []StatusEvent
}

func (r *recorder) Record(ev StatusEvent) { r.events = append(r.events, ev) }

func (r *recorder) count(kind StatusKind, id kernel.TaskID) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && (id == 0 || ev.TaskID == id) {
			n++
		}
	}
	return n
}

func (r *recorder) kinds(kind StatusKind) []StatusEvent {
	var out []StatusEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// testLogger returns a debug logger writing into buf.
func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func contains(buf *bytes.Buffer, s string) bool { return strings.Contains(buf.String(), s) }

func drainAll(q *EventQueue) []TimeEvent {
	var out []TimeEvent
	for q.Len() > 0 {
		ev, err := q.Receive()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

func testLimits() Limits {
	return Limits{MaxPeriod: 100, MaxPeriodic: 3, MaxSporadic: 3, AdmissionControl: true}
}
