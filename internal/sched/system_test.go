package sched

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"edfsim/internal/job"
	"edfsim/internal/kernel"
)

type finish struct {
	name string
	at   kernel.Timespec
}

type simFixture struct {
	k        *kernel.Sim
	sys      *System
	rec      *recorder
	finishes []finish
	log      *bytes.Buffer
	logger   *slog.Logger
}

func newSimFixture(t *testing.T, cfg Config) *simFixture {
	t.Helper()
	f := &simFixture{rec: &recorder{}, log: &bytes.Buffer{}}
	f.logger = testLogger(f.log)
	f.k = kernel.New(f.logger)

	observe := func(id kernel.TaskID, name string, phase job.Phase, at kernel.Timespec) {
		if phase == job.PhaseFinish {
			f.finishes = append(f.finishes, finish{name, at})
		}
	}
	bodies := func(name string, exec time.Duration) kernel.Body {
		return job.SpinWork(exec, f.logger, observe)
	}

	sys, err := NewSystem(cfg, f.k, bodies, f.rec, f.logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	f.sys = sys
	return f
}

func (f *simFixture) run(t *testing.T, until int64) {
	t.Helper()
	if err := f.k.Run(context.Background(), kernel.Seconds(until)); err != nil {
		t.Fatal(err)
	}
}

func (f *simFixture) finishedAt(name string) []int64 {
	var out []int64
	for _, fin := range f.finishes {
		if fin.name == name {
			out = append(out, fin.at.Sec)
		}
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func periodicConfig(admission bool, tasks ...PeriodicConfig) Config {
	cfg := DefaultConfig()
	cfg.AdmissionControl = admission
	cfg.Periodic = tasks
	return cfg
}

func TestSystemSchedulesFeasibleSet(t *testing.T) {
	f := newSimFixture(t, periodicConfig(true, PeriodicConfig{4, 1}, PeriodicConfig{6, 2}))
	f.run(t, 12)

	if got := f.finishedAt("periodic-1"); !equalInts(got, []int64{1, 5, 9}) {
		t.Errorf("periodic-1 finished at %v, want [1 5 9]", got)
	}
	if got := f.finishedAt("periodic-2"); !equalInts(got, []int64{3, 8}) {
		t.Errorf("periodic-2 finished at %v, want [3 8]", got)
	}
	if n := f.rec.count(StatusMiss, 0); n != 0 {
		t.Errorf("%d misses in a feasible set: %+v", n, f.rec.kinds(StatusMiss))
	}

	arrivals := f.rec.kinds(StatusArrival)
	if len(arrivals) < 2 ||
		arrivals[0].Task != "periodic-1" || arrivals[0].Deadline != kernel.Seconds(4) ||
		arrivals[1].Task != "periodic-2" || arrivals[1].Deadline != kernel.Seconds(6) {
		t.Errorf("first arrivals = %+v", arrivals)
	}
	if n := f.rec.count(StatusError, 0); n != 0 {
		t.Errorf("errors: %+v", f.rec.kinds(StatusError))
	}
}

func TestSystemDiscardsOverrun(t *testing.T) {
	f := newSimFixture(t, periodicConfig(false, PeriodicConfig{2, 2}, PeriodicConfig{4, 1}))
	f.run(t, 5)

	misses := f.rec.kinds(StatusMiss)
	if len(misses) != 1 || misses[0].Task != "periodic-2" || misses[0].Deadline != kernel.Seconds(4) {
		t.Fatalf("misses = %+v, want periodic-2 at 4s", misses)
	}
	if n := len(f.rec.kinds(StatusRestart)); n != 1 {
		t.Errorf("%d restarts, want 1", n)
	}
	if got := f.finishedAt("periodic-1"); !equalInts(got, []int64{2, 4}) {
		t.Errorf("periodic-1 finished at %v, want [2 4]", got)
	}
	if f.sys.Server.Enabled() {
		t.Error("server enabled without admission control")
	}
}

func TestSystemServesSporadicRequest(t *testing.T) {
	cfg := periodicConfig(true, PeriodicConfig{4, 1})
	cfg.ServerUtilization = 0.5
	f := newSimFixture(t, cfg)

	var sid kernel.TaskID
	f.k.At(kernel.Timespec{}, func() {
		id, err := f.sys.Server.Submit(2)
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		sid = id
	})
	f.run(t, 5)

	admits := f.rec.kinds(StatusAdmit)
	if len(admits) != 1 || admits[0].Deadline != kernel.Seconds(4) {
		t.Fatalf("admissions = %+v", admits)
	}
	if got := f.finishedAt("sporadic-1"); !equalInts(got, []int64{3}) {
		t.Errorf("sporadic-1 finished at %v, want [3]", got)
	}
	if f.k.Exists(sid) {
		t.Error("sporadic task not reaped at its deadline")
	}
	for _, slot := range f.sys.Registry.Sporadic() {
		if !slot.Empty() {
			t.Errorf("slot of reaped task not released: %+v", slot)
		}
	}
	if f.rec.count(StatusReap, sid) != 1 || f.rec.count(StatusMiss, 0) != 0 {
		t.Errorf("status stream = %+v", f.rec.events)
	}
}

func TestSystemDefaultServerBound(t *testing.T) {
	var buf bytes.Buffer
	k := kernel.New(testLogger(&buf))
	sys, err := NewSystem(periodicConfig(true, PeriodicConfig{4, 1}), k, nopBodies, nil, testLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if b := sys.Server.Bound(); math.Abs(b-0.75) > 1e-9 || !sys.Server.Enabled() {
		t.Errorf("bound = %f enabled = %v, want 0.75 enabled", b, sys.Server.Enabled())
	}
}

func TestNewSystemRejectsOverload(t *testing.T) {
	var buf bytes.Buffer
	k := kernel.New(testLogger(&buf))
	_, err := NewSystem(periodicConfig(true, PeriodicConfig{2, 1}, PeriodicConfig{2, 1}), k, nopBodies, nil, testLogger(&buf))
	if !errors.Is(err, ErrUtilizationExceeded) {
		t.Fatalf("err = %v, want ErrUtilizationExceeded", err)
	}
	if k.Exists(1) {
		t.Error("task of the first registration survived")
	}
}

func TestSystemTeardown(t *testing.T) {
	f := newSimFixture(t, periodicConfig(true, PeriodicConfig{4, 1}, PeriodicConfig{6, 2}))
	f.run(t, 3)

	sched := f.sys.SchedulerTask()
	if sched == 0 || f.k.Name(sched) != "scheduler" {
		t.Fatalf("scheduler task %d named %q", sched, f.k.Name(sched))
	}
	ids := []kernel.TaskID{sched}
	for _, p := range f.sys.Registry.Periodic() {
		ids = append(ids, p.ID)
	}

	f.sys.Teardown()
	for _, id := range ids {
		if f.k.Exists(id) {
			t.Errorf("task %d survived teardown", id)
		}
	}
	if f.sys.SchedulerTask() != 0 {
		t.Error("scheduler id not cleared")
	}
}
