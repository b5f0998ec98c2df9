package sim

import (
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/ringbuf"
)

// InputGenerator is a scripted stand-in for the input-device hook
// (spec.md §4.3 L3, §6(4)): it submits InputEvent records into a
// Distributed ring buffer, one call per simulated input, the same wire
// shape a real input-hook BPF program would produce.
type InputGenerator struct {
	Rings  *ringbuf.Distributed
	Clock  clock.Source
	Lane   ringbuf.Lane
	Device uint32
}

// NewInputGenerator wires an InputGenerator to the ring buffer and
// clock it submits against.
func NewInputGenerator(rings *ringbuf.Distributed, clk clock.Source, lane ringbuf.Lane, deviceID uint32) *InputGenerator {
	return &InputGenerator{Rings: rings, Clock: clk, Lane: lane, Device: deviceID}
}

// Submit emits one input event on producerCPU with the given raw event
// type/code/value, timestamped at the generator's clock. Returns false
// if the target ring was full and the event was dropped.
func (g *InputGenerator) Submit(producerCPU int, eventType, code uint16, value int32) bool {
	return g.Rings.Submit(producerCPU, ringbuf.InputEvent{
		CaptureNs: g.Clock.NowNano(),
		DeviceID:  g.Device,
		Type:      eventType,
		Code:      code,
		Value:     value,
		Lane:      g.Lane,
	})
}

// Burst emits n consecutive events on producerCPU, e.g. to simulate a
// mouse-move burst or a key-repeat sequence for the ring-buffer consumer,
// which opens the lane's input window.
func (g *InputGenerator) Burst(producerCPU int, n int, eventType, code uint16, value int32) int {
	submitted := 0
	for i := 0; i < n; i++ {
		if g.Submit(producerCPU, eventType, code, value) {
			submitted++
		}
	}
	return submitted
}
