// Package constants holds the scheduler's compile-time bounds and
// default tuning values, kept as a single package the way the teacher
// collects its device defaults in one place rather than scattering
// magic numbers across the packages that use them.
package constants

import "time"

// Resource ceilings (spec.md §5).
const (
	// MaxCPUs bounds the per-CPU context table and the KickMask width.
	MaxCPUs = 256

	// MaxTasks bounds the per-task context table's expected size; the
	// table itself grows lazily (it is map-backed), this is an upper
	// bound used for sizing preallocation hints, not a hard cap.
	MaxTasks = 8192

	// RingCount is the number of independent distributed ring buffers
	// (spec.md §4.9): N=16, one per "producer_cpu mod N" bucket.
	RingCount = 16

	// RingSlotBytes is the minimum per-buffer capacity in bytes.
	RingSlotBytes = 64 * 1024

	// MaxScanCPUs bounds the CPU selector's preferred-CPU scan
	// (spec.md §4.6 step 5).
	MaxScanCPUs = 16

	// UnrolledScanCPUs names the unrolled prefix of the preferred-CPU
	// scan. The selector does not reference it: its scan is a plain
	// loop bounded by MaxScanCPUs.
	UnrolledScanCPUs = 4

	// MaxNUMANodes bounds the per-task time-on-node accumulator and the
	// per-node shared dispatch queues.
	MaxNUMANodes = 8

	// UnrolledAggregatorCPUs is where the aggregator's roll-up splits
	// its loop over CPUs into two plain loops with the same body
	// (spec.md §4.8).
	UnrolledAggregatorCPUs = 8
)

// Boost shift bounds (spec.md §3, §4.4).
const (
	MinBoostShift = 0
	MaxBoostShift = 7

	// InputHandlerBoostShift is the boost_shift reserved for the
	// primary input-handler role.
	InputHandlerBoostShift = 7

	// BoostedFloor is the minimum boost_shift at which the Deadline
	// Engine's boosted branch (S >= 3) applies.
	BoostedFloor = 3
)

// Base boost_shift values per classified primary role (spec.md §4.4).
const (
	BaseBoostInput      = 7
	BaseBoostGPU        = 6
	BaseBoostCompositor = 5
	BaseBoostAudio      = 5
	BaseBoostNetwork    = 4
	BaseBoostBackground = 0
)

// Default input-lane boost window durations (spec.md §4.4).
const (
	DefaultMouseWindow    = 6 * time.Millisecond
	DefaultKeyboardWindow = 8 * time.Millisecond
	DefaultGamepadWindow  = 10 * time.Millisecond
)

// Default scheduling tunables (spec.md §6(2), §4.7, §4.8).
const (
	// DefaultSliceNs is the base (non-boosted) time slice.
	DefaultSliceNs = 4_000_000 // 4ms

	// DefaultMigMax is the migration token bucket's cap.
	DefaultMigMax = 4

	// DefaultMigRefillNs is the nanosecond interval at which one
	// migration token is refilled.
	DefaultMigRefillNs = 1_000_000 // 1ms

	// DefaultWakeupTimerNs is the aggregator period.
	DefaultWakeupTimerNs = 500_000 // 500us

	// DefaultRRThresholdPct / DefaultEDFThresholdPct bound the
	// utilization-EWMA hysteresis band that selects RR vs EDF mode.
	DefaultRRThresholdPct  = 15
	DefaultEDFThresholdPct = 24

	// DefaultFrameSafetyNs is the safety margin subtracted from the
	// frame-aware deadline clamp (spec.md §4.5).
	DefaultFrameSafetyNs = 500_000 // 500us

	// DefaultClassificationMinWakeups is the sample count the L4
	// runtime-pattern heuristic requires before it fires.
	DefaultClassificationMinWakeups = 100

	// DefaultInputEventThreshold is K in "more than K events in a
	// window" for an input-hook heuristic. The classifier does not
	// reference it: its L3 layer tags a task input_handler on a single
	// input-device hook event.
	DefaultInputEventThreshold = 8

	// DefaultRetreatWindowNs is how long an input_handler can go
	// without an input-rate burst before being demoted to background
	// (see SPEC_FULL.md "Classification retreat").
	DefaultRetreatWindowNs = 64_000_000 // 64ms, 128 aggregator periods at the 500us default

	// DefaultConsecutiveForDecay is how many consecutive on-time
	// completions clear a miss-induced boost (spec.md §4.8).
	DefaultConsecutiveForDecay = 2
)

// Sentinel values.
const (
	// NoPreferredCore is the sentinel for PerTaskContext.PreferredCore
	// meaning "unset".
	NoPreferredCore = -1

	// NoForegroundGroup is the fg_tgid value meaning "no foreground
	// workload is currently designated".
	NoForegroundGroup = 0
)
