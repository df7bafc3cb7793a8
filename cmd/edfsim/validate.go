package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"edfsim/internal/job"
	"edfsim/internal/kernel"
	"edfsim/internal/sched"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration and print the utilization it implies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return invalid(err)
			}
			return validate(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// validate registers the periodic set against a scratch kernel, which runs
// the same admission checks as a real run.
func validate(cfg sched.Config, out, logOut io.Writer) error {
	logger := plainLogger(cfg, logOut)
	k := kernel.New(logger)
	bodies := func(name string, exec time.Duration) kernel.Body {
		return job.SpinWork(exec, logger, nil)
	}
	sys, err := sched.NewSystem(cfg, k, bodies, nil, logger)
	if err != nil {
		return err
	}
	defer sys.Teardown()

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPERIOD\tEXEC\tUTILIZATION")
	for _, p := range sys.Registry.Periodic() {
		fmt.Fprintf(tw, "%s\t%ds\t%ds\t%.3f\n", p.Name, p.Period, p.ExecTime, p.Utilization())
	}
	fmt.Fprintf(tw, "total\t\t\t%.3f\n", sys.Registry.Utilization())
	if err := tw.Flush(); err != nil {
		return err
	}

	if sys.Server.Enabled() {
		fmt.Fprintf(out, "\nsporadic server: bound %.3f, %d slots\n", sys.Server.Bound(), cfg.MaxSporadic)
	} else {
		fmt.Fprintln(out, "\nsporadic server: disabled")
	}
	return nil
}
