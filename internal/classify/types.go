package classify

import "github.com/lavdgo/lavdgo/internal/pertask"

// HookKind distinguishes the observation sources the Classifier's layered
// detection (spec.md §4.3 L1-L3) reacts to.
type HookKind uint8

const (
	// HookOSPriority is an explicit cross-ABI game-thread-priority
	// event (L1): TIME_CRITICAL+realtime, TIME_CRITICAL non-realtime,
	// or HIGHEST.
	HookOSPriority HookKind = iota
	// HookGPUSubmit is a GPU-submit ioctl observation (L2).
	HookGPUSubmit
	// HookInputDevice is an input-event-hook observation (L3).
	HookInputDevice
	// HookCompositorFrame is a compositor hint (frame-present, vsync).
	HookCompositorFrame
	// HookWinePriority is a Wine-priority hint, folded into L1's
	// tie-break per spec.md §4.3.
	HookWinePriority
)

// OSPriorityClass is the coarse priority classification L1 reacts to.
type OSPriorityClass uint8

const (
	PriorityNormal OSPriorityClass = iota
	PriorityHighest
	PriorityTimeCritical
)

// RawHookEvent is the decoded observation handed from a HookSource to
// the Classifier. Exactly which fields are meaningful depends on Kind.
type RawHookEvent struct {
	Kind HookKind
	Task pertask.ID
	TGID uint32
	NowNs uint64

	// HookInputDevice
	Lane pertask.InputLane

	// HookOSPriority
	Priority      OSPriorityClass
	RealtimeClass bool

	// HookCompositorFrame: nanosecond timestamp of the frame-present
	// event, used by the Boost Engine's frame_period_ns measurement.
	FramePresentNs uint64
}

// HookSource produces a stream of RawHookEvent. The production
// implementation (BPFHookSource, hooksource.go) attaches BPF programs
// via github.com/cilium/ebpf and decodes a fixed-layout perf-event
// sample per event; internal/sim provides a deterministic stand-in for
// tests and the CLI's demo mode. Both satisfy this same interface, so
// swapping one for the other is a one-line change in wiring.
type HookSource interface {
	// Events returns the channel new observations arrive on. The
	// channel is closed when the source is closed or encounters a
	// fatal error.
	Events() <-chan RawHookEvent
	Close() error
}
