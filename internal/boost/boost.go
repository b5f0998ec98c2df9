// Package boost implements the Boost & Input-Window Engine of spec.md
// §4.4: per-lane input windows, the derived global input window, and
// per-task boost_shift recomputation.
package boost

import (
	"math"
	"sync/atomic"

	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

func float64bits(v float64) uint64    { return math.Float64bits(v) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

// Mode is the global queue-ordering mode (spec.md §4.7).
type Mode int32

const (
	ModeRR Mode = iota
	ModeEDF
)

const numLanes = 4 // LaneNone, LaneMouse, LaneKeyboard, LaneGamepad

// GlobalBoostState is the process-wide state of spec.md §3
// GlobalBoostState: per-lane input_until, the derived global window,
// queue mode, utilization EWMA, and frame timing. It is mutated by the
// classifier/boost engine (set_input_lane) and the aggregator (expire,
// mode switch, frame timing); readers use relaxed atomic loads, exactly
// as spec.md §5 requires for this class of single-writer global state.
type GlobalBoostState struct {
	inputUntil [numLanes]atomic.Uint64

	mode atomic.Int32

	utilizationBits atomic.Uint64 // math.Float64bits(EWMA)

	framePeriodNs atomic.Uint64
	lastFrameTs   atomic.Uint64
}

// NewGlobalBoostState returns a zeroed state: no active windows, RR
// mode, zero utilization.
func NewGlobalBoostState() *GlobalBoostState {
	return &GlobalBoostState{}
}

// SetInputLane implements spec.md §4.4's set_input_lane(lane, now):
// input_until[lane] = now + duration. A window never shrinks -- if the
// lane already has a later deadline, it is left alone.
func (g *GlobalBoostState) SetInputLane(lane pertask.InputLane, now uint64, durationNs int64) {
	if lane == pertask.LaneNone || int(lane) >= numLanes {
		return
	}
	next := now + uint64(durationNs)
	for {
		cur := g.inputUntil[lane].Load()
		if !clock.TimeBefore(cur, next) {
			return // existing window already covers at least `next`
		}
		if g.inputUntil[lane].CompareAndSwap(cur, next) {
			return
		}
	}
}

// InputUntil returns the current expiry for lane (0 if inactive).
func (g *GlobalBoostState) InputUntil(lane pertask.InputLane) uint64 {
	if lane == pertask.LaneNone || int(lane) >= numLanes {
		return 0
	}
	return g.inputUntil[lane].Load()
}

// InputUntilGlobal implements input_until_global = max(all lanes).
func (g *GlobalBoostState) InputUntilGlobal() uint64 {
	var max uint64
	for lane := 1; lane < numLanes; lane++ {
		if v := g.inputUntil[lane].Load(); v > max {
			max = v
		}
	}
	return max
}

// InActiveWindow reports whether now is still within the global input
// window -- the "W" flag the Deadline Engine re-checks (spec.md §4.4).
func (g *GlobalBoostState) InActiveWindow(now uint64) bool {
	return clock.TimeBefore(now, g.InputUntilGlobal())
}

// ExpireWindows implements the aggregator's per-tick expiry: any lane
// whose window has passed is cleared to zero. This is the one place a
// lane's input_until is allowed to decrease.
func (g *GlobalBoostState) ExpireWindows(now uint64) {
	for lane := 1; lane < numLanes; lane++ {
		for {
			cur := g.inputUntil[lane].Load()
			if cur == 0 || clock.TimeBefore(now, cur) {
				break
			}
			if g.inputUntil[lane].CompareAndSwap(cur, 0) {
				break
			}
		}
	}
}

func (g *GlobalBoostState) Mode() Mode   { return Mode(g.mode.Load()) }
func (g *GlobalBoostState) SetMode(m Mode) { g.mode.Store(int32(m)) }

// Utilization returns the current utilization EWMA (0..1).
func (g *GlobalBoostState) Utilization() float64 {
	return float64frombits(g.utilizationBits.Load())
}

// SetUtilization publishes a newly computed utilization EWMA.
func (g *GlobalBoostState) SetUtilization(v float64) {
	g.utilizationBits.Store(float64bits(v))
}

// FramePeriodNs returns the measured inter-frame interval (0 if unknown).
func (g *GlobalBoostState) FramePeriodNs() uint64 { return g.framePeriodNs.Load() }

// LastFrameTs returns the timestamp of the most recent frame-present hint.
func (g *GlobalBoostState) LastFrameTs() uint64 { return g.lastFrameTs.Load() }

// ObserveFramePresent updates frame_period_ns and last_frame_ts from a
// compositor frame-present hint observed at nowNs. A stored last_frame_ts
// of 0 means no frame has been seen yet, so the first call only records
// nowNs and leaves frame_period_ns unchanged.
func (g *GlobalBoostState) ObserveFramePresent(nowNs uint64) {
	prev := g.lastFrameTs.Swap(nowNs)
	if prev != 0 && clock.TimeBefore(prev, nowNs) {
		g.framePeriodNs.Store(nowNs - prev)
	}
}

// baseBoost returns the base_boost value for a primary role (spec.md
// §4.4: input=7, gpu=6, compositor=5, audio=5, network=4, else 0).
func baseBoost(role pertask.Role) int {
	switch role {
	case pertask.RoleInputHandler:
		return constants.BaseBoostInput
	case pertask.RoleGPUSubmit:
		return constants.BaseBoostGPU
	case pertask.RoleCompositor:
		return constants.BaseBoostCompositor
	case pertask.RoleAudio:
		return constants.BaseBoostAudio
	case pertask.RoleNetwork:
		return constants.BaseBoostNetwork
	default:
		return constants.BaseBoostBackground
	}
}

// confidenceConfirmed mirrors classify's confidence gate: below
// confirmed confidence, a role is usable for routing but its boost is
// clamped to the floor reserved for "a role is set at all"
// (constants.BoostedFloor), never the full base_boost.
const confidenceConfirmed = 2

// RecomputeBoostShift implements spec.md §4.4's recompute_boost_shift:
// derive base_boost from the task's primary role, clamp it down if
// classification confidence has not reached confirmed, and subtract a
// one-level cooldown if the task's migration token bucket is currently
// exhausted (a proxy for "this task has been moving around too much to
// fully trust its locality-sensitive boost").
func RecomputeBoostShift(ctx *pertask.Context, eligible bool) {
	if !eligible || ctx.Role == pertask.RoleUnknown {
		ctx.BoostShift = 0
		return
	}

	shift := baseBoost(ctx.Role)
	if ctx.Confidence < confidenceConfirmed && shift > constants.BoostedFloor {
		shift = constants.BoostedFloor
	}
	if ctx.Migration.Tokens < 1.0 && shift > constants.MinBoostShift {
		shift--
	}
	if shift > constants.MaxBoostShift {
		shift = constants.MaxBoostShift
	}
	if shift < constants.MinBoostShift {
		shift = constants.MinBoostShift
	}
	ctx.BoostShift = shift
}
