// Package deadline implements the Deadline Engine of spec.md §4.5:
// computing a task's virtual deadline from its vtime snapshot,
// execution average, boost_shift, and current input-window state, with
// a frame-aware clamp for GPU-submit/compositor tasks.
package deadline

import (
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// Compute implements spec.md §4.5's core formula:
//
//	if S >= 3:
//	    boosted = E >> S
//	    if S == 7:
//	        deadline = V + (W ? boosted : E)
//	    else:
//	        deadline = V + boosted
//	else:
//	    deadline = V + E
//
// vtime is the per-CPU vtime_now snapshot at enqueue, execAvg the
// task's moving-average burst length, boostShift 0..7, inWindow the
// "is this task currently within its input window" flag the caller
// derives from boost.GlobalBoostState.InActiveWindow.
func Compute(vtime, execAvg uint64, boostShift int, inWindow bool) uint64 {
	if boostShift < 3 {
		return vtime + execAvg
	}
	boosted := execAvg >> uint(boostShift)
	if boostShift == 7 {
		if inWindow {
			return vtime + boosted
		}
		return vtime + execAvg
	}
	return vtime + boosted
}

// ClampToFrame implements spec.md §4.5's frame-aware refinement for
// gpu_submit/compositor tasks: if a frame period is known, the
// deadline is never later than the next frame boundary minus a safety
// margin. framePeriodNs == 0 means "unknown", in which case deadline is
// returned unchanged.
func ClampToFrame(deadlineVal uint64, role pertask.Role, lastFrameTs, framePeriodNs uint64, safetyMarginNs int64) uint64 {
	if framePeriodNs == 0 {
		return deadlineVal
	}
	if role != pertask.RoleGPUSubmit && role != pertask.RoleCompositor {
		return deadlineVal
	}
	bound := lastFrameTs + framePeriodNs
	margin := uint64(safetyMarginNs)
	if margin > bound {
		bound = 0
	} else {
		bound -= margin
	}
	if clock.TimeBefore(bound, deadlineVal) {
		return bound
	}
	return deadlineVal
}

// ForTask computes a task's deadline end to end: Compute followed by
// ClampToFrame, reading the inputs straight off ctx. frameSafetyNs
// ordinarily comes from the published Config.
func ForTask(ctx *pertask.Context, vtime uint64, inWindow bool, lastFrameTs, framePeriodNs uint64, frameSafetyNs int64) uint64 {
	d := Compute(vtime, ctx.Stats.AvgBurstNs, ctx.BoostShift, inWindow)
	return ClampToFrame(d, ctx.Role, lastFrameTs, framePeriodNs, frameSafetyNs)
}

// DefaultSafetyMarginNs is spec.md §4.5's "safety_margin ≈ 500 µs".
const DefaultSafetyMarginNs = constants.DefaultFrameSafetyNs
