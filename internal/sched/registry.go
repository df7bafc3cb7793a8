package sched

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"edfsim/internal/kernel"
)

// BodyFactory builds the worker body for a task needing exec of CPU time
// per instance.
type BodyFactory func(name string, exec time.Duration) kernel.Body

// Limits bounds the task tables.
type Limits struct {
	MaxPeriod        int  // seconds, upper bound of period and sporadic exec time
	MaxPeriodic      int  // size of the periodic table
	MaxSporadic      int  // number of sporadic admission slots
	AdmissionControl bool // reject periodic sets reaching full utilization
}

// ReadyCapacity returns the size of the scheduler's ready set.
func (l Limits) ReadyCapacity() int { return l.MaxPeriodic + l.MaxSporadic }

// Registry holds the periodic task table and the sporadic slot table.
// Both the timer handler and the server mutate the tables under mu.
type Registry struct {
	mu sync.Mutex

	limits     Limits
	tasks      Tasks
	bodies     BodyFactory
	workerPrio kernel.Priority

	periodic    []PeriodicSpec
	utilization float64
	started     bool // set by Multiplexer.Start

	sporadic     []SporadicSlot
	lastSporadic kernel.Timespec // deadline reserved by the latest admission
	admitted     int

	log *slog.Logger
}

// NewRegistry creates empty tables. New worker tasks start suspended at
// workerPrio.
func NewRegistry(limits Limits, tasks Tasks, bodies BodyFactory, workerPrio kernel.Priority, logger *slog.Logger) *Registry {
	return &Registry{
		limits:     limits,
		tasks:      tasks,
		bodies:     bodies,
		workerPrio: workerPrio,
		periodic:   make([]PeriodicSpec, 0, limits.MaxPeriodic),
		sporadic:   make([]SporadicSlot, limits.MaxSporadic),
		log:        logger.With("component", "registry"),
	}
}

// ValidatePeriodic checks a periodic spec against the period bound.
func ValidatePeriodic(period, exec, maxPeriod int) error {
	if period < 1 || period > maxPeriod {
		return fmt.Errorf("period %ds not in [1, %d]: %w", period, maxPeriod, ErrInvalidSpec)
	}
	if exec < 1 || exec > period {
		return fmt.Errorf("execution time %ds not in [1, %d]: %w", exec, period, ErrInvalidSpec)
	}
	return nil
}

// RegisterPeriodic validates a periodic workload, creates its suspended
// worker task and appends it to the table. The periodic set is fixed once
// the multiplexer has started; later calls fail with ErrStarted.
func (r *Registry) RegisterPeriodic(period, exec int) (kernel.TaskID, error) {
	if err := ValidatePeriodic(period, exec, r.limits.MaxPeriod); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return 0, fmt.Errorf("register periodic task %ds/%ds: %w", period, exec, ErrStarted)
	}
	if len(r.periodic) >= r.limits.MaxPeriodic {
		return 0, fmt.Errorf("register periodic task %d of %d: %w", len(r.periodic)+1, r.limits.MaxPeriodic, ErrTooManyPeriodic)
	}
	u := r.utilization + float64(exec)/float64(period)
	if r.limits.AdmissionControl && u >= 1.0 {
		return 0, fmt.Errorf("utilization would reach %.3f: %w", u, ErrUtilizationExceeded)
	}

	name := fmt.Sprintf("periodic-%d", len(r.periodic)+1)
	id, err := r.spawnLocked(name, exec)
	if err != nil {
		return 0, err
	}
	spec := PeriodicSpec{ID: id, Name: name, Period: period, ExecTime: exec}
	r.periodic = append(r.periodic, spec)
	r.utilization = u
	r.log.Debug("periodic task registered", "task", spec.String(), "id", id, "utilization", u)
	return id, nil
}

func (r *Registry) spawnLocked(name string, exec int) (kernel.TaskID, error) {
	d := time.Duration(exec) * time.Second
	id, err := r.tasks.CreateTask(name, r.workerPrio, r.bodies(name, d))
	if err != nil {
		return 0, fmt.Errorf("create task %s: %w", name, err)
	}
	return id, nil
}

// freeSlotLocked returns the first slot that is empty or whose task has
// vanished, or -1.
func (r *Registry) freeSlotLocked() int {
	for i, s := range r.sporadic {
		if s.Empty() || !r.tasks.Exists(s.ID) {
			return i
		}
	}
	return -1
}

// Periodic returns a copy of the periodic table.
func (r *Registry) Periodic() []PeriodicSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PeriodicSpec(nil), r.periodic...)
}

// releaseSporadic empties the slot holding id.
func (r *Registry) releaseSporadic(id kernel.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sporadic {
		if s.ID == id {
			r.sporadic[i] = SporadicSlot{}
			return
		}
	}
}

// Sporadic returns a copy of the sporadic slot table. Slots of reaped tasks
// are empty; a task deleted behind the scheduler's back keeps its slot
// until the next admission reclaims it.
func (r *Registry) Sporadic() []SporadicSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SporadicSlot(nil), r.sporadic...)
}

// Utilization returns the cumulative utilization of the periodic tasks.
func (r *Registry) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.utilization
}

// Limits returns the table bounds.
func (r *Registry) Limits() Limits { return r.limits }

// Teardown deletes every worker task still alive and empties the sporadic
// slots. The periodic table is kept for reporting.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.periodic {
		if r.tasks.Exists(p.ID) {
			if err := r.tasks.DeleteTask(p.ID); err != nil {
				r.log.Error("cannot delete periodic task", "task", p.Name, "task_id", p.ID, "error", err)
			}
		}
	}
	for i, s := range r.sporadic {
		if !s.Empty() && r.tasks.Exists(s.ID) {
			if err := r.tasks.DeleteTask(s.ID); err != nil {
				r.log.Error("cannot delete sporadic task", "task", s.Name, "task_id", s.ID, "error", err)
			}
		}
		r.sporadic[i] = SporadicSlot{}
	}
}
