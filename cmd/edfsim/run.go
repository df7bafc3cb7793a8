package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"edfsim/internal/job"
	"edfsim/internal/kernel"
	"edfsim/internal/logging"
	"edfsim/internal/sched"
	"edfsim/internal/trace"
)

type runOptions struct {
	duration          int
	tickMS            int
	traceCSV          string
	events            bool
	admissionControl  bool
	serverUtilization float64
	sporadic          []string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and print its summary",
		Example: `  edfsim run --periodic 4:1 --periodic 6:2 --duration 24
  edfsim run -c config.yml --sporadic 2.5:3 --trace-csv trace.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return invalid(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return simulate(ctx, cfg, opts.events, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.duration, "duration", "d", 0, "Simulated seconds to run (overrides duration_s)")
	f.IntVar(&opts.tickMS, "tick-ms", 0, "Wall milliseconds per clock tick, 0 runs as fast as possible (overrides tick_ms)")
	f.StringVar(&opts.traceCSV, "trace-csv", "", "Write the status stream to this CSV file (overrides trace_csv)")
	f.BoolVar(&opts.events, "events", false, "Print every status event")
	f.BoolVar(&opts.admissionControl, "admission-control", true, "Reject periodic sets reaching full utilization (overrides admission_control)")
	f.Float64Var(&opts.serverUtilization, "server-utilization", 0, "CPU share reserved for sporadic work (overrides server_utilization)")
	f.StringArrayVar(&opts.sporadic, "sporadic", nil, "Sporadic request as at:exec in seconds, repeatable; added to the config list")
	return cmd
}

// apply copies the run flags the user set onto cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *sched.Config) error {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.DurationS = o.duration
	}
	if flags.Changed("tick-ms") {
		cfg.TickMS = o.tickMS
	}
	if flags.Changed("trace-csv") {
		cfg.TraceCSV = o.traceCSV
	}
	if flags.Changed("admission-control") {
		cfg.AdmissionControl = o.admissionControl
	}
	if flags.Changed("server-utilization") {
		cfg.ServerUtilization = o.serverUtilization
	}
	for _, s := range o.sporadic {
		req, err := parseSporadic(s)
		if err != nil {
			return err
		}
		cfg.Sporadic = append(cfg.Sporadic, req)
	}
	return nil
}

// simulate runs cfg on a fresh kernel. Logs go to logOut, the summary and
// the optional event stream to out.
func simulate(ctx context.Context, cfg sched.Config, events bool, out, logOut io.Writer) error {
	runID := uuid.New()

	var k *kernel.Sim
	handler := logging.WithClock(
		logging.NewHandler(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, logOut),
		func() string { return kernel.FromDuration(k.Elapsed()).String() },
	)
	logger := slog.New(handler).With("run_id", runID.String())
	k = kernel.New(logger)
	log := logger.With("component", "main")

	if cfg.TickMS > 0 {
		clock := kernel.NewTickClock(1)
		clock.Start(time.Duration(cfg.TickMS) * time.Millisecond)
		defer clock.Stop()
		k.Pace(clock, cfg.ClockRate)
	}

	rec := trace.NewRecorder(runID)
	if events {
		rec.EnableConsole(out)
	}
	if cfg.TraceCSV != "" {
		f, err := os.Create(cfg.TraceCSV)
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		if err := rec.EnableCSV(f); err != nil {
			return fmt.Errorf("write trace header: %w", err)
		}
	}

	bodies := func(name string, exec time.Duration) kernel.Body {
		return job.SpinWork(exec, logger, rec.Observe)
	}
	sys, err := sched.NewSystem(cfg, k, bodies, rec, logger)
	if err != nil {
		return err
	}

	k.SetClock(kernel.Timespec{})
	if err := sys.Start(); err != nil {
		sys.Teardown()
		return err
	}

	for i, req := range cfg.Sporadic {
		i, req := i, req // per-iteration copy (go.mod targets Go 1.21 loop semantics)
		k.At(kernel.FromDuration(req.Offset()), func() {
			if _, err := sys.Server.Submit(req.Exec); err != nil {
				log.Warn("sporadic request refused", "request", i+1, "exec_s", req.Exec, "error", err)
			}
		})
	}

	runErr := k.Run(ctx, kernel.Seconds(int64(cfg.DurationS)))
	sys.Teardown()
	switch {
	case errors.Is(runErr, context.Canceled):
		log.Warn("simulation interrupted")
	case runErr != nil:
		return runErr
	}

	elapsed := k.Now().Duration()
	load := 0.0
	if elapsed > 0 {
		load = k.Busy().Seconds() / elapsed.Seconds()
	}
	log.Info("simulation finished", "elapsed", elapsed, "cpu_busy", k.Busy(), "load", load)

	return trace.WriteSummary(out, rec.Summary())
}
