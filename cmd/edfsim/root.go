package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"edfsim/internal/logging"
	"edfsim/internal/sched"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	config    string
	debug     bool
	logLevel  string
	logFormat string
	periodic  []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "edfsim",
		Short: "Earliest-deadline-first scheduling on a fixed-priority kernel",
		Long: `edfsim runs periodic and sporadic workloads on a simulated single-CPU
priority-preemptive kernel and schedules them earliest-deadline-first by
remapping task priorities on every release and deadline.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.config, "config", "c", "", "YAML config file (default: built-in defaults)")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	pf.StringArrayVar(&opts.periodic, "periodic", nil, "Periodic task as period:exec in seconds, repeatable; replaces the config list")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

// loadConfig reads the config file and applies the persistent flags the
// user actually set.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (sched.Config, error) {
	cfg, err := sched.Load(o.config)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}

	if len(o.periodic) > 0 {
		cfg.Periodic = cfg.Periodic[:0]
		for _, s := range o.periodic {
			p, err := parsePeriodic(s)
			if err != nil {
				return cfg, err
			}
			cfg.Periodic = append(cfg.Periodic, p)
		}
	}
	return cfg, nil
}

// plainLogger is used where no virtual clock exists.
func plainLogger(cfg sched.Config, w io.Writer) *slog.Logger {
	return logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, w)
}

func invalid(err error) error {
	return fmt.Errorf("invalid configuration:\n%w", err)
}
