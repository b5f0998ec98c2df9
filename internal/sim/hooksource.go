// Package sim provides deterministic stand-ins for the collaborators
// spec.md §6 excludes from the core (game detection, the input/GPU
// hook sources): a scripted HookSource, a game-detector driver, and
// input/GPU-submit generators. None of these make scheduling
// decisions; they only produce the observations the CORE consumes, the
// same role the teacher's MockBackend plays for Backend.
package sim

import (
	"sync"
	"sync/atomic"

	"github.com/lavdgo/lavdgo/internal/classify"
)

// HookSource is a channel-based, test/demo-mode stand-in for
// classify.BPFHookSource: Emit pushes a RawHookEvent onto the channel
// Events() returns, exactly as a real perf-event reader would after
// decoding a kernel sample.
type HookSource struct {
	events chan classify.RawHookEvent
	closed atomic.Bool
	once   sync.Once
}

// NewHookSource constructs a HookSource with the given channel buffer
// depth (0 is a valid, fully synchronous size).
func NewHookSource(buffer int) *HookSource {
	return &HookSource{events: make(chan classify.RawHookEvent, buffer)}
}

// Emit pushes ev onto the source's channel. It is a no-op after Close.
// Blocks if the channel is unbuffered or full, matching a real
// perf.Reader's backpressure onto its ring buffer. Emit and Close are
// expected to be driven from the same goroutine (a scripted test or
// demo-mode driver), not called concurrently with each other.
func (s *HookSource) Emit(ev classify.RawHookEvent) {
	if s.closed.Load() {
		return
	}
	s.events <- ev
}

// Events implements classify.HookSource.
func (s *HookSource) Events() <-chan classify.RawHookEvent {
	return s.events
}

// Close implements classify.HookSource, closing the channel exactly
// once so a second Close never panics. An Emit after Close returns is a
// no-op; an Emit running concurrently with Close is not safe (see Emit).
func (s *HookSource) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.events)
	})
	return nil
}

var _ classify.HookSource = (*HookSource)(nil)
