package sched

import (
	"fmt"
	"log/slog"

	"edfsim/internal/kernel"
)

// System owns one complete EDF context: the task tables, the event queue,
// the timer multiplexer, the sporadic server and the scheduler task.
type System struct {
	Registry  *Registry
	Queue     *EventQueue
	Mux       *Multiplexer
	Server    *Server
	Scheduler *Scheduler

	kernel    Kernel
	schedTask kernel.TaskID
	cfg       Config
	log       *slog.Logger
}

// NewSystem registers the configured periodic tasks and wires the
// components onto k. The clock is not touched and nothing runs until Start.
func NewSystem(cfg Config, k Kernel, bodies BodyFactory, sink Sink, logger *slog.Logger) (*System, error) {
	if sink == nil {
		sink = Discard
	}
	limits := cfg.Limits()
	reg := NewRegistry(limits, k, bodies, kernel.Priority(cfg.MinPriority), logger)
	for i, p := range cfg.Periodic {
		if _, err := reg.RegisterPeriodic(p.Period, p.Exec); err != nil {
			reg.Teardown()
			return nil, fmt.Errorf("periodic task %d: %w", i+1, err)
		}
	}

	queue := NewEventQueue(2 * limits.ReadyCapacity())
	mux := NewMultiplexer(reg, queue, k, sink, logger)

	bound := cfg.ServerUtilization
	if bound == 0 {
		bound = 1 - reg.Utilization()
	}
	server := NewServer(reg, mux, k, bound, cfg.AdmissionControl && limits.MaxSporadic > 0, sink, logger)

	sched := NewScheduler(k, k, queue, limits.ReadyCapacity(),
		kernel.Priority(cfg.BasePriority), kernel.Priority(cfg.MinPriority), sink, logger)
	sched.OnReap(reg.releaseSporadic)

	return &System{
		Registry:  reg,
		Queue:     queue,
		Mux:       mux,
		Server:    server,
		Scheduler: sched,
		kernel:    k,
		cfg:       cfg,
		log:       logger.With("component", "system"),
	}, nil
}

// Start creates the scheduler task and arms the timer for the first
// releases.
func (s *System) Start() error {
	id, err := s.kernel.CreateTask("scheduler", kernel.Priority(s.cfg.SchedulerPriority), kernel.Func(s.Scheduler.Pass))
	if err != nil {
		return fmt.Errorf("create scheduler task: %w", err)
	}
	s.schedTask = id
	s.Mux.SetWake(id)

	if err := s.Mux.Start(); err != nil {
		return err
	}
	s.log.Info("system started",
		"periodic", len(s.Registry.Periodic()),
		"utilization", s.Registry.Utilization(),
		"server_enabled", s.Server.Enabled(),
		"server_bound", s.Server.Bound(),
	)
	return nil
}

// SchedulerTask returns the id of the scheduler task, zero before Start.
func (s *System) SchedulerTask() kernel.TaskID { return s.schedTask }

// Teardown deletes the timer, the scheduler task and every worker.
func (s *System) Teardown() {
	if err := s.Mux.Stop(); err != nil {
		s.log.Error("delete timer", "error", err)
	}
	if s.schedTask != 0 {
		if err := s.kernel.DeleteTask(s.schedTask); err != nil {
			s.log.Error("delete scheduler task", "error", err)
		}
		s.schedTask = 0
	}
	s.Registry.Teardown()
	s.log.Info("system torn down")
}
