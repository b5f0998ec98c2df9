package sim

import (
	"github.com/lavdgo/lavdgo/internal/classify"
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// GPUSubmitGenerator is a scripted stand-in for a GPU-submit ioctl
// observation hook (spec.md §4.3 L2): it emits HookGPUSubmit events for
// a task at a caller-driven cadence (typically once per simulated
// frame), through a HookSource the Classifier is already consuming.
type GPUSubmitGenerator struct {
	Source *HookSource
	Clock  clock.Source
	Task   pertask.ID
	TGID   uint32
}

// NewGPUSubmitGenerator wires a GPUSubmitGenerator to the hook source
// and task it submits on behalf of.
func NewGPUSubmitGenerator(src *HookSource, clk clock.Source, task pertask.ID, tgid uint32) *GPUSubmitGenerator {
	return &GPUSubmitGenerator{Source: src, Clock: clk, Task: task, TGID: tgid}
}

// SubmitFrame emits one HookGPUSubmit event timestamped at the
// generator's clock, simulating a single frame's GPU submission.
func (g *GPUSubmitGenerator) SubmitFrame() {
	g.Source.Emit(classify.RawHookEvent{
		Kind: classify.HookGPUSubmit,
		Task: g.Task,
		TGID: g.TGID,
		NowNs: g.Clock.NowNano(),
	})
}

// CompositorFrameGenerator is a scripted stand-in for the compositor's
// frame-present hint, used to drive boost.GlobalBoostState's
// frame_period_ns measurement in tests and demo mode.
type CompositorFrameGenerator struct {
	Source *HookSource
	Clock  clock.Source
	Task   pertask.ID
	TGID   uint32
}

// NewCompositorFrameGenerator wires a CompositorFrameGenerator.
func NewCompositorFrameGenerator(src *HookSource, clk clock.Source, task pertask.ID, tgid uint32) *CompositorFrameGenerator {
	return &CompositorFrameGenerator{Source: src, Clock: clk, Task: task, TGID: tgid}
}

// Present emits one HookCompositorFrame event at the generator's
// current clock reading.
func (g *CompositorFrameGenerator) Present() {
	now := g.Clock.NowNano()
	g.Source.Emit(classify.RawHookEvent{
		Kind:           classify.HookCompositorFrame,
		Task:           g.Task,
		TGID:           g.TGID,
		NowNs:          now,
		FramePresentNs: now,
	})
}
