// Package percpu implements the fixed-size, cache-line-padded per-CPU
// context table of spec.md §3/§4.2: one PerCPUContext per CPU id, written
// only by that CPU's hooks (single-writer), except for the aggregator's
// periodic read-then-zero of the local counters.
package percpu

import (
	"sync/atomic"

	"github.com/lavdgo/lavdgo/internal/constants"
)

// cacheLinePad is sized to push each Context onto its own cache line on
// common 64-byte-line hardware, avoiding false sharing between adjacent
// CPUs' contexts in the fixed array.
type cacheLinePad [64]byte

// Counters holds the monotonic, only-ever-increasing local counters the
// aggregator rolls into globals each tick (spec.md §3's PerCPUContext
// "local counters" field).
type Counters struct {
	DirectDispatches atomic.Uint64
	RREnqueues       atomic.Uint64
	EDFEnqueues      atomic.Uint64
	SharedDispatches atomic.Uint64
	Migrations       atomic.Uint64
	MigrationBlocked atomic.Uint64
	IdlePicks        atomic.Uint64
	IdleProbeMisses  atomic.Uint64
	MMHintHits       atomic.Uint64
	SyncWakeFastHits atomic.Uint64
}

// Snapshot is a plain-value copy of Counters taken by the aggregator's
// read-then-zero pass.
type Snapshot struct {
	DirectDispatches uint64
	RREnqueues       uint64
	EDFEnqueues      uint64
	SharedDispatches uint64
	Migrations       uint64
	MigrationBlocked uint64
	IdlePicks        uint64
	IdleProbeMisses  uint64
	MMHintHits       uint64
	SyncWakeFastHits uint64
}

// ReadAndZero snapshots every counter and resets it to zero, for the
// aggregator's per-period roll-up. Each field is read and zeroed by one
// atomic Swap, so no concurrent increment is lost; the fields are
// swapped one after another, not as a single transaction, so an
// increment landing mid-call is counted in this snapshot or the next.
func (c *Counters) ReadAndZero() Snapshot {
	return Snapshot{
		DirectDispatches: c.DirectDispatches.Swap(0),
		RREnqueues:       c.RREnqueues.Swap(0),
		EDFEnqueues:      c.EDFEnqueues.Swap(0),
		SharedDispatches: c.SharedDispatches.Swap(0),
		Migrations:       c.Migrations.Swap(0),
		MigrationBlocked: c.MigrationBlocked.Swap(0),
		IdlePicks:        c.IdlePicks.Swap(0),
		IdleProbeMisses:  c.IdleProbeMisses.Swap(0),
		MMHintHits:       c.MMHintHits.Swap(0),
		SyncWakeFastHits: c.SyncWakeFastHits.Swap(0),
	}
}

// Peek takes a non-destructive snapshot of every counter, for metrics
// reporting between aggregator ticks; unlike ReadAndZero it does not
// reset anything.
func (c *Counters) Peek() Snapshot {
	return Snapshot{
		DirectDispatches: c.DirectDispatches.Load(),
		RREnqueues:       c.RREnqueues.Load(),
		EDFEnqueues:      c.EDFEnqueues.Load(),
		SharedDispatches: c.SharedDispatches.Load(),
		Migrations:       c.Migrations.Load(),
		MigrationBlocked: c.MigrationBlocked.Load(),
		IdlePicks:        c.IdlePicks.Load(),
		IdleProbeMisses:  c.IdleProbeMisses.Load(),
		MMHintHits:       c.MMHintHits.Load(),
		SyncWakeFastHits: c.SyncWakeFastHits.Load(),
	}
}

// Mode is the global queue-ordering mode (spec.md §4.7).
type Mode int32

const (
	ModeRR Mode = iota
	ModeEDF
)

// Context is the per-CPU state block. Every field other than Counters
// (which is internally atomic for the aggregator's benefit) is written
// only by the CPU it belongs to; readers from other CPUs (e.g. the
// selector doing an idle probe) use the atomic Idle flag and otherwise
// treat stale reads of VTimeNow/InteractiveAvg as acceptable hints, never
// as a correctness requirement.
type Context struct {
	_ cacheLinePad

	Counters Counters

	// Idle is true when no task is currently running on this CPU; the
	// selector's idle-core search reads this from any CPU.
	Idle atomic.Bool

	VTimeNow       uint64 // monotonic local virtual time
	InteractiveAvg float64
	LastUpdateNs   uint64
	PerfLvl        uint32 // 0..1024, see SPEC_FULL.md perf_lvl hinting
	SharedDSQID    int    // NUMA node assignment for this CPU's shared queue
	LastCPUIdx     int    // last CPU index picked by this CPU's RR cursor, if any
	Mode           Mode

	// CurrentTask is the task identity (pertask.ID, kept as a raw
	// uint64 to avoid importing pertask from this leaf package) this
	// CPU is currently running, or 0 if none. Set by the dispatch
	// loop; read by the aggregator's priority-inheritance check.
	CurrentTask uint64

	_ cacheLinePad
}

// Table is the fixed-size array of Context, indexed by CPU id, sized to
// MaxCPUs regardless of how many CPUs are actually online (spec.md §4.2:
// "a fixed array indexed by CPU id (0..nr_cpus) with cache-line padded
// entries").
type Table struct {
	cpus [constants.MaxCPUs]Context
}

// NewTable constructs a Table with every CPU marked idle and in RR mode,
// matching a freshly booted scheduler with no observed utilization yet.
func NewTable() *Table {
	t := &Table{}
	for i := range t.cpus {
		t.cpus[i].Idle.Store(true)
		t.cpus[i].SharedDSQID = i % constants.MaxNUMANodes
	}
	return t
}

// Get returns a pointer to the Context for the given CPU id. The caller
// is responsible for only writing fields it owns (the CPU matching cpu,
// or the aggregator's Counters.ReadAndZero).
func (t *Table) Get(cpu int) *Context {
	return &t.cpus[cpu]
}

// Len returns the table's fixed capacity (always MaxCPUs).
func (t *Table) Len() int {
	return len(t.cpus)
}

// ForEach invokes fn for every CPU context in id order. Used by the
// aggregator's roll-up pass and by metrics snapshotting.
func (t *Table) ForEach(fn func(cpu int, ctx *Context)) {
	for i := range t.cpus {
		fn(i, &t.cpus[i])
	}
}
