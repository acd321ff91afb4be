// Package kconfig loads the kernel core's tunables from a TOML file, using
// github.com/BurntSushi/toml (present in the example pack's go.mod). A
// zero-config Default() is provided so tests and simple embedders never
// need a file on disk.
package kconfig

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rcukernel/corekernel/internal/kerr"
)

// ERConfig tunes the epoch reclaimer.
type ERConfig struct {
	// ReclaimIntervalMS is the per-CPU background worker's scan period.
	ReclaimIntervalMS int64 `toml:"reclaim_interval_ms"`
	// Expedited enables the polling expedited-grace-period path described
	// as an Open Question in spec §9; default off.
	Expedited bool `toml:"expedited"`
	// WatchdogSpins bounds WaitQuiescent's deadlock-detection spin count.
	WatchdogSpins int `toml:"watchdog_spins"`
}

// SchedConfig tunes the scheduler core and run queues.
type SchedConfig struct {
	// TickIntervalMS is the simulated timer-interrupt period driving task_tick.
	TickIntervalMS int64 `toml:"tick_interval_ms"`
	// PriorityClasses is the configured number of top-level priority
	// classes; Load accepts 1-8 (the width of the 8-bit top mask in spec
	// §4.3). The run queues do not read it.
	PriorityClasses int `toml:"priority_classes"`
}

// Config is the full kernel core configuration.
type Config struct {
	CPUCount int          `toml:"cpu_count"` // 0 means "use kcpu.Count()"
	ER       ERConfig     `toml:"er"`
	Sched    SchedConfig  `toml:"sched"`
}

// Default returns the zero-configuration kernel: single CPU, 10ms reclaim
// interval, 10ms scheduler tick, 8 priority classes, expedited GP off.
func Default() Config {
	return Config{
		CPUCount: 1,
		ER: ERConfig{
			ReclaimIntervalMS: 10,
			Expedited:         false,
			WatchdogSpins:     1 << 20,
		},
		Sched: SchedConfig{
			TickIntervalMS:  10,
			PriorityClasses: 8,
		},
	}
}

// ReclaimInterval returns the configured reclaim interval as a Duration.
func (c ERConfig) ReclaimInterval() time.Duration {
	return time.Duration(c.ReclaimIntervalMS) * time.Millisecond
}

// TickInterval returns the configured scheduler tick period as a Duration.
func (c SchedConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// Load reads and decodes a TOML config file at path, filling in any
// unset fields from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, kerr.Wrap(kerr.InvalidArgument, "kconfig: decode "+path, err)
	}
	if cfg.CPUCount < 0 {
		return Config{}, kerr.New(kerr.InvalidArgument, "kconfig: negative cpu_count")
	}
	if cfg.Sched.PriorityClasses <= 0 || cfg.Sched.PriorityClasses > 8 {
		return Config{}, kerr.New(kerr.InvalidArgument, "kconfig: priority_classes must be in [1,8]")
	}
	return cfg, nil
}
