package ringbuf

import "github.com/lavdgo/lavdgo/internal/constants"

// Distributed owns the fixed RingCount=16 independent Rings and
// implements the producer/consumer contracts of spec.md §4.9: a
// producer on CPU c always writes into buffer[c mod RingCount] (CPUs
// that share a bucket claim slots through that Ring's compare-and-swap
// on head, never through a write index shared between Rings), and a
// consumer merges events out of all sixteen in arrival order (observed,
// not globally serialized -- spec.md is explicit that cross-CPU event
// ordering is not guaranteed).
type Distributed struct {
	rings [constants.RingCount]*Ring
}

// NewDistributed constructs all RingCount independent ring buffers.
func NewDistributed() *Distributed {
	d := &Distributed{}
	for i := range d.rings {
		d.rings[i] = NewRing()
	}
	return d
}

// bucket maps a producer CPU id to its ring index.
func bucket(producerCPU int) int {
	b := producerCPU % constants.RingCount
	if b < 0 {
		b += constants.RingCount
	}
	return b
}

// Submit writes e into the ring owned by producerCPU. Returns false if
// that ring was full and the event was dropped (the per-ring overflow
// counter is incremented regardless, for the caller to read later via
// Overflow).
func (d *Distributed) Submit(producerCPU int, e InputEvent) bool {
	return d.rings[bucket(producerCPU)].Submit(e)
}

// Overflow returns the overflow counter for the ring at the given
// index (0..RingCount-1), i.e. ringbuf_overflow[i] from spec.md §4.9.
func (d *Distributed) Overflow(i int) uint64 {
	return d.rings[i].Overflow()
}

// TotalOverflow sums ringbuf_overflow[i] across all rings.
func (d *Distributed) TotalOverflow() uint64 {
	var total uint64
	for _, r := range d.rings {
		total += r.Overflow()
	}
	return total
}

// PollAny drains a single event from any non-empty ring, scanning the
// rings round-robin starting from a caller-supplied cursor so that a
// sustained burst on one CPU cannot starve the others' consumption.
// Returns the drained event, the next cursor to pass on the following
// call, and whether an event was found.
func (d *Distributed) PollAny(cursor int) (InputEvent, int, bool) {
	for i := 0; i < constants.RingCount; i++ {
		idx := (cursor + i) % constants.RingCount
		if e, ok := d.rings[idx].Poll(); ok {
			return e, (idx + 1) % constants.RingCount, true
		}
	}
	return InputEvent{}, cursor, false
}

// DrainAll polls every ring until empty, invoking fn for each event in
// the merged (non-globally-ordered) arrival sequence. It is intended
// for the user-space controller's poll loop and for tests that want to
// fully drain a burst of injected events.
func (d *Distributed) DrainAll(fn func(InputEvent)) {
	cursor := 0
	for {
		e, next, ok := d.PollAny(cursor)
		if !ok {
			return
		}
		cursor = next
		fn(e)
	}
}
