// Package dispatch implements the Enqueue/Dispatch component of
// spec.md §4.7: per-CPU local queues, per-NUMA-node shared queues
// (round-robin FIFO or EDF-ordered depending on the global mode), the
// per-CPU dispatch loop (local, then same-node shared, then other
// nodes), and KickMask integration for waking idle CPUs.
package dispatch

import (
	"sync"

	"github.com/lavdgo/lavdgo/internal/bitset"
	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// Entry is a queued task reference: the task identity and, in EDF
// mode, the deadline used to order it.
type Entry struct {
	TaskID   pertask.ID
	Deadline uint64
}

// LocalQueue is a per-CPU FIFO (spec.md §4.7's "local queue"). It is
// normally touched only by its owning CPU, but is mutex-guarded so
// tests and a future cross-CPU steal path can use it safely.
type LocalQueue struct {
	mu    sync.Mutex
	items []Entry
}

func (q *LocalQueue) Push(e Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// Pop removes and returns the oldest entry (FIFO).
func (q *LocalQueue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Entry{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SharedQueue is a per-NUMA-node queue shared by every CPU on that
// node. Its ordering depends on the dispatcher's current global mode:
// FIFO tail-insertion under RR, deadline-ordered insertion under EDF
// (spec.md §4.7).
type SharedQueue struct {
	mu    sync.Mutex
	items []Entry
}

// Insert places e according to mode: RR appends to the tail; EDF
// inserts in wrap-safe deadline order so PopFront always yields the
// earliest deadline.
func (q *SharedQueue) Insert(e Entry, mode boost.Mode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if mode == boost.ModeRR {
		q.items = append(q.items, e)
		return
	}
	i := 0
	for i < len(q.items) && !clock.TimeBefore(e.Deadline, q.items[i].Deadline) {
		i++
	}
	q.items = append(q.items, Entry{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = e
}

// PopFront removes and returns the head of the queue.
func (q *SharedQueue) PopFront() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Entry{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *SharedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Peek returns the head of the queue without removing it, used by the
// aggregator's priority-inheritance check to inspect the
// highest-priority waiter.
func (q *SharedQueue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Entry{}, false
	}
	return q.items[0], true
}

// Dispatcher owns every local and shared queue plus the KickMask, and
// implements the placement and dispatch-loop operations of spec.md §4.7.
type Dispatcher struct {
	local  [constants.MaxCPUs]LocalQueue
	shared [constants.MaxNUMANodes]SharedQueue

	kick   bitset.KickMask
	kickMu sync.Mutex

	perCPU *percpu.Table
}

// NewDispatcher constructs a Dispatcher bound to the given per-CPU
// table (read for Idle flags and SharedDSQID node assignment).
func NewDispatcher(perCPU *percpu.Table) *Dispatcher {
	return &Dispatcher{perCPU: perCPU}
}

// EnqueueLocal places e onto cpu's local queue (spec.md §4.7's "direct
// dispatch"). If cpu is currently idle, it is added to the KickMask so
// the end-of-dispatch kick pass wakes it.
func (d *Dispatcher) EnqueueLocal(cpu int, e Entry) {
	d.local[cpu].Push(e)
	if d.perCPU.Get(cpu).Idle.Load() {
		d.kickMu.Lock()
		d.kick.Set(cpu)
		d.kickMu.Unlock()
	}
}

// EnqueueShared places e onto node's shared queue, ordered per mode.
// If any CPU on that node is currently idle, it is added to the
// KickMask so it picks the new entry up promptly.
func (d *Dispatcher) EnqueueShared(node int, e Entry, mode boost.Mode) {
	d.shared[node].Insert(e, mode)
	d.kickMu.Lock()
	d.perCPU.ForEach(func(cpu int, ctx *percpu.Context) {
		if ctx.SharedDSQID == node && ctx.Idle.Load() {
			d.kick.Set(cpu)
		}
	})
	d.kickMu.Unlock()
}

// DispatchOne implements the per-CPU dispatch loop: local queue first,
// then the same-node shared queue, then every other node's shared
// queue in id order (spec.md §4.7, bounded by MaxNUMANodes steps).
func (d *Dispatcher) DispatchOne(cpu int) (Entry, bool) {
	if e, ok := d.local[cpu].Pop(); ok {
		d.perCPU.Get(cpu).Counters.DirectDispatches.Add(1)
		d.perCPU.Get(cpu).CurrentTask = uint64(e.TaskID)
		return e, true
	}

	ownNode := d.perCPU.Get(cpu).SharedDSQID
	if e, ok := d.shared[ownNode].PopFront(); ok {
		d.perCPU.Get(cpu).Counters.SharedDispatches.Add(1)
		d.perCPU.Get(cpu).CurrentTask = uint64(e.TaskID)
		return e, true
	}
	for node := 0; node < constants.MaxNUMANodes; node++ {
		if node == ownNode {
			continue
		}
		if e, ok := d.shared[node].PopFront(); ok {
			d.perCPU.Get(cpu).Counters.SharedDispatches.Add(1)
			d.perCPU.Get(cpu).CurrentTask = uint64(e.TaskID)
			return e, true
		}
	}
	return Entry{}, false
}

// PeekShared returns the head of node's shared queue without removing
// it, used by the aggregator's priority-inheritance check.
func (d *Dispatcher) PeekShared(node int) (Entry, bool) {
	return d.shared[node].Peek()
}

// FlushKicks issues fn once per CPU currently marked in the KickMask,
// then clears the mask -- spec.md §4.7's "at end of dispatch the
// scheduler iterates the bitset ... and issues wakes". Calling it twice
// in a row with no intervening Set is a no-op (ForEachSet clears as it
// scans).
func (d *Dispatcher) FlushKicks(fn func(cpu int)) {
	d.kickMu.Lock()
	defer d.kickMu.Unlock()
	d.kick.ForEachSet(fn)
}

// ModeForUtilization implements spec.md §4.7's hysteresis: drop to RR
// once utilization falls below rrThresholdPct, rise to EDF once it
// reaches edfThresholdPct, otherwise keep the current mode.
func ModeForUtilization(current boost.Mode, utilizationEWMA float64, rrThresholdPct, edfThresholdPct int) boost.Mode {
	pct := utilizationEWMA * 100
	switch {
	case pct < float64(rrThresholdPct):
		return boost.ModeRR
	case pct >= float64(edfThresholdPct):
		return boost.ModeEDF
	default:
		return current
	}
}
