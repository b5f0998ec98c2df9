package ringbuf

import "sync/atomic"

// slotCapacity is the number of InputEvent records each individual ring
// holds. At EventSize=24 bytes, 3072 slots is 73,728 bytes, comfortably
// over the RingSlotBytes (64 KiB) floor from spec.md §4.9. It is not a
// power of two, so slot indices are taken modulo slotCapacity.
const slotCapacity = 3072

// Ring is a lock-free, fixed-capacity queue of InputEvent records.
// Distributed assigns each CPU's events to a Ring via cpu mod N, so
// with more than N CPUs several producers share one Ring: Submit
// claims a slot with a compare-and-swap on head, and any number of
// goroutines may submit and poll concurrently.
//
// Capacity is preallocated at construction and never grows: Submit
// either claims a free slot or fails immediately, matching the "no
// locks; no dynamic allocation after init" invariant.
type Ring struct {
	buf      [slotCapacity]InputEvent
	ready    [slotCapacity]atomic.Uint32 // 0 = empty, 1 = ready for consumers
	head     atomic.Uint64               // next slot a producer will claim
	tail     atomic.Uint64               // next slot a consumer will attempt to read
	overflow atomic.Uint64
}

// NewRing constructs an empty Ring.
func NewRing() *Ring {
	return &Ring{}
}

// Submit writes e into the next free slot. It never blocks: if the
// producer has outrun every consumer (the slot at head hasn't been
// drained), the event is dropped and the overflow counter is
// incremented. This satisfies spec.md §4.9's "reserve/submit is
// non-blocking; failure returns immediately and increments
// ringbuf_overflow[i]" and "drop-on-full never delays the input hook".
func (r *Ring) Submit(e InputEvent) bool {
	for {
		t := r.tail.Load()
		h := r.head.Load()
		slot := h % slotCapacity

		if h-t >= slotCapacity || r.ready[slot].Load() != 0 {
			// The consumer side hasn't drained this slot since it last
			// wrapped around -- the ring is full from this producer's
			// point of view. Drop rather than wait.
			r.overflow.Add(1)
			return false
		}
		if !r.head.CompareAndSwap(h, h+1) {
			continue // another producer claimed slot h, retry
		}
		r.buf[slot] = e
		r.ready[slot].Store(1)
		return true
	}
}

// Poll attempts to drain one event. Safe for concurrent callers: each
// slot is claimed via a compare-and-swap on its ready flag, so at most
// one consumer ever takes a given event.
func (r *Ring) Poll() (InputEvent, bool) {
	for {
		t := r.tail.Load()
		h := r.head.Load()
		if t == h {
			return InputEvent{}, false
		}
		slot := t % slotCapacity
		if r.ready[slot].Load() == 0 {
			// Producer reserved this slot's generation but hasn't
			// published the event into it yet, or another consumer
			// already claimed it and tail hasn't advanced past it;
			// either way there's nothing to take right now.
			return InputEvent{}, false
		}
		if !r.tail.CompareAndSwap(t, t+1) {
			continue // lost the race with another consumer, retry
		}
		e := r.buf[slot]
		r.ready[slot].Store(0)
		return e, true
	}
}

// Overflow returns the cumulative count of events dropped because the
// ring was full.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// Len returns the approximate number of events currently queued. It is
// a snapshot, not a synchronization point: head and tail may be read at
// slightly different instants under concurrent access.
func (r *Ring) Len() int {
	h := r.head.Load()
	t := r.tail.Load()
	if h < t {
		return 0
	}
	return int(h - t)
}
