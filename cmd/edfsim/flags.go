package main

import (
	"fmt"
	"strconv"
	"strings"

	"edfsim/internal/sched"
)

// parsePeriodic parses "period:exec", both in whole seconds.
func parsePeriodic(s string) (sched.PeriodicConfig, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return sched.PeriodicConfig{}, fmt.Errorf("periodic task %q: want period:exec", s)
	}
	period, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return sched.PeriodicConfig{}, fmt.Errorf("periodic task %q: period: %w", s, err)
	}
	exec, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return sched.PeriodicConfig{}, fmt.Errorf("periodic task %q: exec: %w", s, err)
	}
	return sched.PeriodicConfig{Period: period, Exec: exec}, nil
}

// parseSporadic parses "at:exec". at may be fractional.
func parseSporadic(s string) (sched.SporadicConfig, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return sched.SporadicConfig{}, fmt.Errorf("sporadic request %q: want at:exec", s)
	}
	at, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return sched.SporadicConfig{}, fmt.Errorf("sporadic request %q: submit time: %w", s, err)
	}
	exec, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return sched.SporadicConfig{}, fmt.Errorf("sporadic request %q: exec: %w", s, err)
	}
	return sched.SporadicConfig{At: at, Exec: exec}, nil
}
