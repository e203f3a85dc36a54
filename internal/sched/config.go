package sched

import (
	"fmt"
	"math"
	"os"
	"strings"

	yaml "github.com/goccy/go-yaml"
)

// IOMode selects where an io task spends its wait.
type IOMode string

const (
	// IOModeInline charges the wait on the CPU timeline, right before the burst.
	IOModeInline IOMode = "inline"
	// IOModeOverlap parks the task off-CPU until its wake-up tick.
	IOModeOverlap IOMode = "overlap"
)

// Config mirrors config.yml. It is read once and passed by value.
type Config struct {
	Nice0Load        float64 `yaml:"nice_0_load"`        // 1024 (by default)
	TimesliceMS      int64   `yaml:"cpu_timeslice_ms"`   // 1 (by default)
	IOWaitMS         int64   `yaml:"io_wait_time_ms"`    // 10 (by default)
	MinGranularityMS int64   `yaml:"min_granularity_ms"` // 1 (by default)
	MaxPriority      int     `yaml:"max_priority"`       // 39 (by default)
	IOWaitEvery      int     `yaml:"io_wait_every"`      // 1 (by default), wait before every Nth burst
	IOMode           IOMode  `yaml:"io_mode"`            // inline (by default)
}

// DefaultConfig returns the parameters used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Nice0Load:        DefaultNice0Load,
		TimesliceMS:      1,
		IOWaitMS:         10,
		MinGranularityMS: 1,
		MaxPriority:      DefaultMaxPriority,
		IOWaitEvery:      1,
		IOMode:           IOModeInline,
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigError{Subject: path, Err: err}
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return cfg, &ConfigError{Subject: "config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the scheduler cannot run with. Nothing is clamped.
func (c Config) Validate() error {
	switch {
	case c.Nice0Load <= 0 || math.IsNaN(c.Nice0Load) || math.IsInf(c.Nice0Load, 0):
		return configErrorf("nice_0_load", "must be a positive finite number, got %v", c.Nice0Load)
	case c.TimesliceMS <= 0:
		return configErrorf("cpu_timeslice_ms", "must be positive, got %d", c.TimesliceMS)
	case c.IOWaitMS < 0:
		return configErrorf("io_wait_time_ms", "must not be negative, got %d", c.IOWaitMS)
	case c.MinGranularityMS <= 0:
		return configErrorf("min_granularity_ms", "must be positive, got %d", c.MinGranularityMS)
	case c.MaxPriority < 0 || c.MaxPriority > PriorityLimit:
		return configErrorf("max_priority", "must be in [0, %d], got %d", PriorityLimit, c.MaxPriority)
	case c.IOWaitEvery <= 0:
		return configErrorf("io_wait_every", "must be positive, got %d", c.IOWaitEvery)
	}

	if c.IOMode != IOModeInline && c.IOMode != IOModeOverlap {
		return configErrorf("io_mode", "unknown io mode %q", c.IOMode)
	}
	return nil
}

// WeightTable returns the table derived from this configuration.
func (c Config) WeightTable() WeightTable {
	return NewWeightTable(c.Nice0Load, c.MaxPriority)
}

// Slice is the quantum granted per dispatch; it never drops below the minimum granularity.
func (c Config) Slice() int64 {
	return max(c.TimesliceMS, c.MinGranularityMS)
}

// ParseIOMode accepts "inline" and "overlap".
func ParseIOMode(s string) (IOMode, error) {
	switch m := IOMode(strings.ToLower(s)); m {
	case IOModeInline, IOModeOverlap:
		return m, nil
	default:
		return "", fmt.Errorf("unknown io mode %q", s)
	}
}
