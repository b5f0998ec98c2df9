// Package classify implements the layered task-role classification of
// spec.md §4.3: explicit OS-priority hints, GPU-submit observations,
// input-device hook hits, a runtime-pattern heuristic once enough
// wakeups have been observed, and a name/cgroup fallback. Later layers
// may refine a classification but never demote it without evidence.
package classify

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// confidence levels. A role set below confidenceConfirmed is usable for
// routing decisions but its boost_shift is clamped by the Boost Engine
// until confidence reaches confidenceConfirmed.
const (
	confidenceNone = iota
	confidenceTentative
	confidenceConfirmed
)

// Classifier owns the foreground-workload membership set and applies
// the L1-L5 layers to PerTaskContext entries. It holds no per-task
// state of its own: everything it learns is written into the task's
// pertask.Context, which is why ObserveWakeup/ObserveHook take a
// *pertask.Context rather than looking one up internally -- the caller
// (the wakeup/dispatch path) already holds it.
type Classifier struct {
	fgTGID atomic.Uint32

	mu          sync.Mutex
	gameThreads map[pertask.ID]struct{}

	clk clock.Source
}

// NewClassifier constructs a Classifier that uses clk for retreat-window
// and burst-timestamp comparisons. Pass clock.Default in production.
func NewClassifier(clk clock.Source) *Classifier {
	return &Classifier{
		gameThreads: make(map[pertask.ID]struct{}),
		clk:         clk,
	}
}

// SetForeground implements the game-detection collaborator contract of
// spec.md §6(1): sets fg_tgid (0 clears it).
func (c *Classifier) SetForeground(tgid uint32) {
	c.fgTGID.Store(tgid)
}

// ForegroundTGID returns the current fg_tgid (0 = unset).
func (c *Classifier) ForegroundTGID() uint32 {
	return c.fgTGID.Load()
}

// MarkGameThread records id as belonging to the foreground game's
// thread membership structure (spec.md §6(1)).
func (c *Classifier) MarkGameThread(id pertask.ID) {
	c.mu.Lock()
	c.gameThreads[id] = struct{}{}
	c.mu.Unlock()
}

// UnmarkGameThread removes id, e.g. on thread exit.
func (c *Classifier) UnmarkGameThread(id pertask.ID) {
	c.mu.Lock()
	delete(c.gameThreads, id)
	c.mu.Unlock()
}

func (c *Classifier) isGameThread(id pertask.ID) bool {
	c.mu.Lock()
	_, ok := c.gameThreads[id]
	c.mu.Unlock()
	return ok
}

// IsBoostEligible implements spec.md §4.3's invariant: only tasks
// belonging to the foreground workload, or to a globally whitelisted
// system role (compositor, audio), may receive a non-default boost.
func (c *Classifier) IsBoostEligible(ctx *pertask.Context) bool {
	if ctx.Role == pertask.RoleCompositor || ctx.Role == pertask.RoleAudio {
		return true
	}
	fg := c.fgTGID.Load()
	if fg != 0 && ctx.TGID == fg {
		return true
	}
	return c.isGameThread(ctx.ID)
}

// ObserveHook applies layers L1-L3: explicit OS-priority hints,
// GPU-submit ioctl observations, and input-device hook hits. A hook
// observation is high-confidence evidence, so it is applied
// unconditionally rather than being gated on sample count.
func (c *Classifier) ObserveHook(ctx *pertask.Context, ev RawHookEvent) {
	switch ev.Kind {
	case HookOSPriority, HookWinePriority:
		c.applyOSPriority(ctx, ev)
	case HookGPUSubmit:
		ctx.Role = pertask.RoleGPUSubmit
		ctx.Confidence = maxInt(ctx.Confidence, confidenceConfirmed)
	case HookInputDevice:
		ctx.Role = pertask.RoleInputHandler
		ctx.InputLaneHint = ev.InputLane()
		ctx.LastInputBurstNs = ev.NowNs
		ctx.Confidence = maxInt(ctx.Confidence, confidenceConfirmed)
	case HookCompositorFrame:
		ctx.Role = pertask.RoleCompositor
		ctx.Confidence = maxInt(ctx.Confidence, confidenceConfirmed)
	}
}

func (c *Classifier) applyOSPriority(ctx *pertask.Context, ev RawHookEvent) {
	switch ev.Priority {
	case PriorityTimeCritical:
		if ev.RealtimeClass {
			ctx.Role = pertask.RoleAudio
		} else {
			ctx.Role = pertask.RoleCompositor
		}
		ctx.Confidence = maxInt(ctx.Confidence, confidenceConfirmed)
	case PriorityHighest:
		// Tied between input and render; L4's runtime pattern refines
		// this choice once enough wakeups are observed. Default to
		// input_handler, the more latency-sensitive guess.
		if ctx.Role == pertask.RoleUnknown {
			ctx.Role = pertask.RoleInputHandler
			ctx.Confidence = maxInt(ctx.Confidence, confidenceTentative)
		}
	}
}

// ObserveWakeup applies L4: the runtime-pattern heuristic, usable once
// wakeupCount has reached constants.DefaultClassificationMinWakeups.
// It never demotes a role a higher layer (L1-L3) already confirmed.
func (c *Classifier) ObserveWakeup(ctx *pertask.Context, wakeupCount uint64, burstNs uint64, wakeupHz float64, involuntary bool) {
	if ctx.Confidence >= confidenceConfirmed {
		return
	}
	if wakeupCount < uint64(constants.DefaultClassificationMinWakeups) {
		return
	}

	switch {
	case burstNs < 100_000 && wakeupHz >= 500 && wakeupHz <= 8000:
		ctx.Role = pertask.RoleInputHandler
	case burstNs >= 8_000_000 && burstNs <= 12_000_000 && wakeupHz >= 90 && wakeupHz <= 110:
		ctx.Role = pertask.RoleAudio
	case burstNs >= 1_000_000 && burstNs <= 16_000_000 && wakeupHz >= 60 && wakeupHz <= 240:
		ctx.Role = pertask.RoleGPUSubmit
	case burstNs > 5_000_000 && involuntary:
		ctx.Role = pertask.RoleBackground
	default:
		return
	}
	ctx.Confidence = confidenceConfirmed
}

// ClassifyByName applies L5, the name/cgroup fallback, used only when
// no higher layer has set a role yet.
func (c *Classifier) ClassifyByName(ctx *pertask.Context, name, cgroup string) {
	if ctx.Role != pertask.RoleUnknown {
		return
	}
	lower := strings.ToLower(name + " " + cgroup)
	switch {
	case strings.Contains(lower, "pipewire") || strings.Contains(lower, "pulseaudio") || strings.Contains(lower, "audio"):
		ctx.Role = pertask.RoleAudio
	case strings.Contains(lower, "compositor") || strings.Contains(lower, "wayland") || strings.Contains(lower, "xorg"):
		ctx.Role = pertask.RoleCompositor
	case strings.Contains(lower, "network") || strings.Contains(lower, "net."):
		ctx.Role = pertask.RoleNetwork
	default:
		ctx.Role = pertask.RoleBackground
	}
	ctx.Confidence = confidenceTentative
}

// ApplyRetreatDecay implements the classification-retreat behavior: an
// input_handler that has not observed an input burst for
// retreatWindowNs is demoted to background and its boost_shift is
// lowered by one at that moment. Later calls leave a background task
// untouched, so boost_shift is not lowered further here; the next
// RecomputeBoostShift derives it from the background role. The
// aggregator calls this once per tick for every tracked task (spec.md
// §9 Open Questions, resolved in SPEC_FULL.md).
func (c *Classifier) ApplyRetreatDecay(ctx *pertask.Context, nowNs uint64, retreatWindowNs uint64) {
	if ctx.Role != pertask.RoleInputHandler {
		return
	}
	if !clock.TimeBefore(ctx.LastInputBurstNs+retreatWindowNs, nowNs) {
		return
	}
	ctx.Role = pertask.RoleBackground
	if ctx.BoostShift > 0 {
		ctx.BoostShift--
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// InputLane maps a RawHookEvent's lane onto pertask.InputLane; both
// enums share ordinal values by construction (see pertask.InputLane's
// doc comment), so this is a direct conversion.
func (ev RawHookEvent) InputLane() pertask.InputLane {
	return ev.Lane
}
