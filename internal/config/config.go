// Package config implements the profile-loader collaborator contract of
// spec.md §6(2): a Config struct published atomically by an external
// loader (or, in this repository, the CLI) and read lock-free by every
// hot-path component.
package config

import (
	"sync/atomic"

	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/errdom"
)

// Config mirrors spec.md §6(2)'s published structure exactly:
// slice_ns, input_window_ns[lane], mig_max, mig_refill_ns,
// wakeup_timer_ns, rr_threshold_pct, edf_threshold_pct,
// preferred_cpus[0..MAX_CPUS], frame_safety_ns.
type Config struct {
	SliceNs int64

	// InputWindowNs indexes by ringbuf.Lane (mouse/keyboard/gamepad);
	// kept as a plain array here rather than importing ringbuf, to
	// avoid a dependency cycle between config and the packages that
	// read it.
	InputWindowNs [4]int64

	MigMax      float64
	MigRefillNs int64

	WakeupTimerNs int64

	RRThresholdPct  int
	EDFThresholdPct int

	// PreferredCPUs is the NUMA-ordered scan list the selector walks
	// (spec.md §4.6 step 5); nil or empty means "use the default
	// ascending CPU order".
	PreferredCPUs []int

	FrameSafetyNs int64
}

// Default returns the spec-mandated default tunables (spec.md §4.4,
// §4.7, §4.8, §6(2)).
func Default() *Config {
	return &Config{
		SliceNs: constants.DefaultSliceNs,
		InputWindowNs: [4]int64{
			0, // LaneNone
			int64(constants.DefaultMouseWindow),
			int64(constants.DefaultKeyboardWindow),
			int64(constants.DefaultGamepadWindow),
		},
		MigMax:          constants.DefaultMigMax,
		MigRefillNs:     constants.DefaultMigRefillNs,
		WakeupTimerNs:   constants.DefaultWakeupTimerNs,
		RRThresholdPct:  constants.DefaultRRThresholdPct,
		EDFThresholdPct: constants.DefaultEDFThresholdPct,
		FrameSafetyNs:   constants.DefaultFrameSafetyNs,
	}
}

// Validate reports a ConfigurationError if the configuration is
// unusable: an out-of-range CPU in PreferredCPUs, a threshold ordering
// violation (RR threshold must be below EDF threshold, per spec.md
// §4.7's hysteresis band), or a non-positive timing parameter that would
// make the scheduler (or the token bucket's division) misbehave.
func (c *Config) Validate() error {
	if c.SliceNs <= 0 {
		return errdom.New(errdom.CodeConfigurationError, "config.Validate", "slice_ns must be positive")
	}
	if c.WakeupTimerNs <= 0 {
		return errdom.New(errdom.CodeConfigurationError, "config.Validate", "wakeup_timer_ns must be positive")
	}
	if c.MigRefillNs <= 0 {
		return errdom.New(errdom.CodeConfigurationError, "config.Validate", "mig_refill_ns must be positive")
	}
	if c.MigMax < 0 {
		return errdom.New(errdom.CodeConfigurationError, "config.Validate", "mig_max must not be negative")
	}
	if c.RRThresholdPct < 0 || c.EDFThresholdPct > 100 {
		return errdom.New(errdom.CodeConfigurationError, "config.Validate", "thresholds must be within 0..100")
	}
	if c.RRThresholdPct > c.EDFThresholdPct {
		return errdom.New(errdom.CodeConfigurationError, "config.Validate", "rr_threshold_pct must not exceed edf_threshold_pct")
	}
	for _, cpu := range c.PreferredCPUs {
		if cpu < 0 || cpu >= constants.MaxCPUs {
			return errdom.New(errdom.CodeConfigurationError, "config.Validate", "preferred_cpus entry out of range")
		}
	}
	for _, w := range c.InputWindowNs {
		if w < 0 {
			return errdom.New(errdom.CodeConfigurationError, "config.Validate", "input_window_ns must not be negative")
		}
	}
	return nil
}

// Published is a lock-free, single-writer, multi-reader publication
// point for the current Config: the writer (controller/profile loader)
// stores a new *Config with release semantics, readers load a pointer
// with acquire semantics and see a fully-formed, immutable snapshot --
// spec.md §5's "Per-game profile state ... published via copy-on-write;
// readers snapshot a pointer with an atomic load-acquire; the writer
// stores with release."
type Published struct {
	ptr atomic.Pointer[Config]
}

// NewPublished constructs a Published value already holding initial.
func NewPublished(initial *Config) *Published {
	p := &Published{}
	p.ptr.Store(initial)
	return p
}

// Load returns the current Config. Callers must not mutate the returned
// value -- it is shared; to change configuration, build a new *Config
// and call Store.
func (p *Published) Load() *Config {
	return p.ptr.Load()
}

// Store atomically publishes next as the current configuration.
func (p *Published) Store(next *Config) {
	p.ptr.Store(next)
}
