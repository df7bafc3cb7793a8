// internal/kernel/sim.go

package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
)

var (
	ErrNoSuchTask  = errors.New("no such task")
	ErrNoSuchTimer = errors.New("no such timer")
)

// Sim is a single-CPU, priority-preemptive executive running on a virtual
// clock. Task bodies consume virtual CPU time; timers and stimuli fire at
// absolute virtual times and may preempt the running task at slice
// boundaries.
type Sim struct {
	mu        sync.Mutex // protects every field below
	now       Timespec
	tasks     map[TaskID]*task
	nextID    TaskID
	seq       uint64
	timers    map[TimerID]*timer
	nextTimer TimerID
	stimuli   *binaryheap.Heap // pending stimuli ordered by (at, seq)
	stimSeq   uint64
	busy      time.Duration // CPU time consumed by task bodies
	elapsed   atomic.Int64  // mirror of now, readable without mu

	// pacing-related
	pacer     *TickClock
	clockRate int64 // ticks per virtual second

	log *slog.Logger
}

// New creates an idle executive with its clock at zero.
func New(logger *slog.Logger) *Sim {
	return &Sim{
		tasks:   make(map[TaskID]*task),
		timers:  make(map[TimerID]*timer),
		stimuli: binaryheap.NewWith(stimulusCmp),
		log:     logger.With("component", "kernel"),
	}
}

// Pace ties the virtual clock to c: every clockRate ticks of c advance the
// virtual clock by one second. Must be called before Run().
func (k *Sim) Pace(c *TickClock, clockRate int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pacer = c
	k.clockRate = int64(clockRate)
}

// Now returns the current virtual time.
func (k *Sim) Now() Timespec {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// SetClock moves the virtual clock to ts.
func (k *Sim) SetClock(ts Timespec) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.setNowLocked(ts)
}

// Elapsed returns the virtual time as an offset from the clock origin. It
// takes no lock, so log handlers may call it from inside kernel methods.
func (k *Sim) Elapsed() time.Duration {
	return time.Duration(k.elapsed.Load())
}

func (k *Sim) setNowLocked(ts Timespec) {
	k.now = ts
	k.elapsed.Store(int64(ts.Duration()))
}

// Busy returns the CPU time consumed by task bodies so far.
func (k *Sim) Busy() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.busy
}

// CreateTask adds a suspended task. It runs once activated.
func (k *Sim) CreateTask(name string, prio Priority, body Body) (TaskID, error) {
	if body == nil {
		return 0, fmt.Errorf("create task %q: nil body", name)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	k.nextID++
	t := &task{
		id:   k.nextID,
		name: name,
		prio: clampPriority(prio),
		body: body,
	}
	k.tasks[t.id] = t
	k.log.Debug("task created", "task", name, "id", t.id, "priority", t.prio)
	return t.id, nil
}

// DeleteTask removes a task. Deleting is safe at any time.
func (k *Sim) DeleteTask(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("delete task %d: %w", id, ErrNoSuchTask)
	}
	delete(k.tasks, id)
	k.log.Debug("task deleted", "task", t.name, "id", id)
	return nil
}

// Activate makes a suspended task ready. Activating a ready task is a no-op.
func (k *Sim) Activate(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("activate task %d: %w", id, ErrNoSuchTask)
	}
	k.makeReadyLocked(t)
	return nil
}

// Suspend takes a task off the CPU until it is activated again.
func (k *Sim) Suspend(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("suspend task %d: %w", id, ErrNoSuchTask)
	}
	t.ready = false
	return nil
}

// Restart rewinds a task to its entry point and makes it ready.
func (k *Sim) Restart(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("restart task %d: %w", id, ErrNoSuchTask)
	}
	t.body.Reset()
	t.ready = false
	k.makeReadyLocked(t)
	return nil
}

// IsSuspended reports whether the task exists and is not ready to run.
func (k *Sim) IsSuspended(id TaskID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	return ok && !t.ready
}

// Exists reports whether id names a live task.
func (k *Sim) Exists(id TaskID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, ok := k.tasks[id]
	return ok
}

// SetPriority changes a task's priority on the fly.
func (k *Sim) SetPriority(id TaskID, prio Priority) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("set priority of task %d: %w", id, ErrNoSuchTask)
	}
	t.prio = clampPriority(prio)
	return nil
}

// Priority returns a task's current priority.
func (k *Sim) Priority(id TaskID) (Priority, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return 0, fmt.Errorf("get priority of task %d: %w", id, ErrNoSuchTask)
	}
	return t.prio, nil
}

// Name returns the task's name, or "" for a vanished task.
func (k *Sim) Name(id TaskID) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	if t, ok := k.tasks[id]; ok {
		return t.name
	}
	return ""
}

// At schedules fn to run on the kernel's dispatch loop at virtual time at.
// Stimuli model external requests, e.g. an operator submitting work.
func (k *Sim) At(at Timespec, fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stimSeq++
	k.stimuli.Push(&stimulus{at: at, seq: k.stimSeq, fn: fn})
}

// Run dispatches tasks until the virtual clock reaches until or ctx is done.
// Expired timers fire before stimuli due at the same time, and both run
// before any task body.
func (k *Sim) Run(ctx context.Context, until Timespec) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		k.mu.Lock()
		if fn := k.dueLocked(); fn != nil {
			k.mu.Unlock()
			fn()
			continue
		}
		if !k.now.Before(until) {
			k.mu.Unlock()
			return nil
		}

		horizon := k.horizonLocked(until)
		t := k.pickLocked()
		if t == nil {
			// idle: jump straight to the next event
			advance := horizon.Sub(k.now)
			k.setNowLocked(horizon)
			k.mu.Unlock()
			if err := k.pace(ctx, advance); err != nil {
				return err
			}
			continue
		}

		rc := RunContext{Task: t.id, Name: t.name, Now: k.now, Slice: horizon.Sub(k.now)}
		body := t.body
		k.mu.Unlock()

		used, done := body.Run(rc)
		if used > rc.Slice {
			used = rc.Slice
		} else if used < 0 {
			used = 0
		}

		k.mu.Lock()
		k.setNowLocked(k.now.Add(used))
		k.busy += used
		// the body may have deleted or restarted its own task
		if cur, ok := k.tasks[t.id]; ok && cur == t && done {
			t.ready = false
		}
		k.mu.Unlock()

		if err := k.pace(ctx, used); err != nil {
			return err
		}
	}
}

func (k *Sim) makeReadyLocked(t *task) {
	if t.ready {
		return
	}
	k.seq++
	t.ready = true
	t.seq = k.seq
}

// pickLocked returns the most urgent ready task, FIFO within a priority.
func (k *Sim) pickLocked() *task {
	var best *task
	for _, t := range k.tasks {
		if !t.ready {
			continue
		}
		if best == nil || t.prio < best.prio || (t.prio == best.prio && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// dueLocked pops the next expired timer or stimulus and returns its routine.
func (k *Sim) dueLocked() func() {
	var due *timer
	for _, t := range k.timers {
		if !t.armed || t.at.After(k.now) {
			continue
		}
		if due == nil || t.at.Before(due.at) || (t.at == due.at && t.id < due.id) {
			due = t
		}
	}
	if due != nil {
		due.armed = false
		return due.handler
	}

	if v, ok := k.stimuli.Peek(); ok {
		s := v.(*stimulus)
		if !s.at.After(k.now) {
			k.stimuli.Pop()
			return s.fn
		}
	}
	return nil
}

// horizonLocked returns the earliest future timer or stimulus, bounded by until.
func (k *Sim) horizonLocked(until Timespec) Timespec {
	h := until
	for _, t := range k.timers {
		if t.armed && t.at.Before(h) {
			h = t.at
		}
	}
	if v, ok := k.stimuli.Peek(); ok {
		if s := v.(*stimulus); s.at.Before(h) {
			h = s.at
		}
	}
	return h
}

func (k *Sim) pace(ctx context.Context, advance time.Duration) error {
	if k.pacer == nil || k.clockRate <= 0 || advance <= 0 {
		return nil
	}
	ticks := int64(advance) * k.clockRate / int64(time.Second)
	return k.pacer.Wait(ctx, ticks)
}

// stimulus is an external event delivered at a virtual time.
type stimulus struct {
	at  Timespec
	seq uint64
	fn  func()
}

// stimulusCmp orders stimuli by time, then by submission order.
func stimulusCmp(a, b any) int {
	sa, sb := a.(*stimulus), b.(*stimulus)
	if c := sa.at.Compare(sb.at); c != 0 {
		return c
	}
	switch {
	case sa.seq < sb.seq:
		return -1
	case sa.seq > sb.seq:
		return 1
	default:
		return 0
	}
}
