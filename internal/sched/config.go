package sched

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// MaxSeconds bounds the length of one simulation run.
const MaxSeconds = 1000

// Config mirrors config.yml
type Config struct {
	DurationS         int     `yaml:"duration_s"`         // 30 (by default)
	AdmissionControl  bool    `yaml:"admission_control"`  // true (by default)
	ServerUtilization float64 `yaml:"server_utilization"` // 0 = whatever the periodic set leaves
	MaxPeriod         int     `yaml:"max_period"`         // 100 (by default)
	MaxPeriodic       int     `yaml:"max_periodic"`       // 3 (by default)
	MaxSporadic       int     `yaml:"max_sporadic"`       // 3 (by default)
	BasePriority      int     `yaml:"base_priority"`      // 104 (by default)
	MinPriority       int     `yaml:"min_priority"`       // 255 (by default)
	SchedulerPriority int     `yaml:"scheduler_priority"` // 103 (by default)
	ClockRate         int     `yaml:"clock_rate"`         // 60 ticks per simulated second
	TickMS            int     `yaml:"tick_ms"`            // wall ms per tick, 0 = as fast as possible
	LogLevel          string  `yaml:"log_level"`
	LogFormat         string  `yaml:"log_format"`
	TraceCSV          string  `yaml:"trace_csv"`

	Periodic []PeriodicConfig `yaml:"periodic"`
	Sporadic []SporadicConfig `yaml:"sporadic"`
}

// PeriodicConfig declares one periodic task, in seconds.
type PeriodicConfig struct {
	Period int `yaml:"period"`
	Exec   int `yaml:"exec"`
}

// SporadicConfig declares one sporadic request submitted At seconds into the run.
type SporadicConfig struct {
	At   float64 `yaml:"at"`
	Exec int     `yaml:"exec"`
}

// Offset returns the submit time as a duration since the start of the run.
func (s SporadicConfig) Offset() time.Duration { return secondsToDuration(s.At) }

// DefaultConfig is used when no config file is given.
func DefaultConfig() Config {
	return Config{
		DurationS:         30,
		AdmissionControl:  true,
		MaxPeriod:         100,
		MaxPeriodic:       3,
		MaxSporadic:       3,
		BasePriority:      104,
		MinPriority:       255,
		SchedulerPriority: 103,
		ClockRate:         60,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	// sanity clamps
	if cfg.MaxPeriod <= 0 {
		cfg.MaxPeriod = 100
	}
	if cfg.ClockRate <= 0 {
		cfg.ClockRate = 60
	}
	if cfg.TickMS < 0 {
		cfg.TickMS = 0
	}

	return cfg, nil
}

// Validate reports every configuration error at once.
func (c Config) Validate() error {
	var errs []error
	if c.DurationS < 1 || c.DurationS > MaxSeconds {
		errs = append(errs, fmt.Errorf("duration %ds not in [1, %d]", c.DurationS, MaxSeconds))
	}
	if c.MaxPeriodic < 1 {
		errs = append(errs, errors.New("max_periodic must be at least 1"))
	}
	if c.MaxSporadic < 0 {
		errs = append(errs, errors.New("max_sporadic must not be negative"))
	}
	if n := len(c.Periodic); n < 1 || n > c.MaxPeriodic {
		errs = append(errs, fmt.Errorf("%d periodic tasks not in [1, %d]", n, c.MaxPeriodic))
	}
	if c.SchedulerPriority < 0 || c.SchedulerPriority > c.BasePriority {
		errs = append(errs, fmt.Errorf("scheduler priority %d must be more urgent than every tier (base %d)", c.SchedulerPriority, c.BasePriority))
	}
	if c.BasePriority >= c.MinPriority || c.MinPriority > 255 {
		errs = append(errs, fmt.Errorf("priority tiers (%d, %d] must be non-empty and within 255", c.BasePriority, c.MinPriority))
	}
	if !(c.ServerUtilization >= 0 && c.ServerUtilization <= 1) {
		errs = append(errs, fmt.Errorf("server utilization %.3f not in [0, 1]", c.ServerUtilization))
	}
	for i, p := range c.Periodic {
		if err := ValidatePeriodic(p.Period, p.Exec, c.MaxPeriod); err != nil {
			errs = append(errs, fmt.Errorf("periodic task %d: %w", i+1, err))
		}
	}
	for i, s := range c.Sporadic {
		if !(s.At >= 0 && s.At <= MaxSeconds) {
			errs = append(errs, fmt.Errorf("sporadic request %d: submit time %v not in [0, %d]", i+1, s.At, MaxSeconds))
		}
		if s.Exec < 1 || s.Exec > c.MaxPeriod {
			errs = append(errs, fmt.Errorf("sporadic request %d: execution time %ds not in [1, %d]: %w", i+1, s.Exec, c.MaxPeriod, ErrInvalidSpec))
		}
	}
	return errors.Join(errs...)
}

// Limits returns the table bounds of c.
func (c Config) Limits() Limits {
	return Limits{
		MaxPeriod:        c.MaxPeriod,
		MaxPeriodic:      c.MaxPeriodic,
		MaxSporadic:      c.MaxSporadic,
		AdmissionControl: c.AdmissionControl,
	}
}
