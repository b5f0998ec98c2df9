// Package metricsapi implements the Metrics external-interface contract
// of spec.md §6(3): a readable snapshot structure with global counters,
// per-CPU aggregates, a power-of-two latency histogram, current mode,
// and utilization EWMA.
package metricsapi

import (
	"github.com/lavdgo/lavdgo/internal/aggregator"
	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
	"github.com/lavdgo/lavdgo/internal/ringbuf"
)

// PerCPUSnapshot is one CPU's point-in-time state, for the per-CPU
// aggregates spec.md §6(3) asks for.
type PerCPUSnapshot struct {
	CPU         int
	Idle        bool
	VTimeNow    uint64
	PerfLvl     uint32
	SharedDSQID int
	Counters    percpu.Snapshot
}

// Snapshot is the full readable structure handed to external consumers
// (spec.md §6(3)): global counters, per-CPU aggregates, a latency
// histogram, current mode, and utilization EWMA.
type Snapshot struct {
	Mode            string
	UtilizationEWMA float64

	Global GlobalCounters0

	PerCPU []PerCPUSnapshot

	LatencyHistogram [NumBuckets]uint64

	RingBufferOverflow uint64
	DeadlineMisses     uint64
	TrackedTasks       int

	MissedAggregatorPeriods uint64
}

// GlobalCounters0 is a plain-value mirror of aggregator.GlobalCounters
// (which holds atomics, unsuitable to copy or serialize directly).
type GlobalCounters0 struct {
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

// Collector assembles a Snapshot from the live scheduler state. It also
// owns the input-to-frame latency Histogram, fed externally via
// ObserveInputLatency (spec.md §4.9's consumer contract: "computes latency (now -
// capture_ts), clamped to 0 on negative skew").
type Collector struct {
	PerCPU     *percpu.Table
	PerTask    *pertask.Table
	Global     *boost.GlobalBoostState
	Aggregator *aggregator.Aggregator
	Rings      *ringbuf.Distributed

	Latency Histogram
}

// NewCollector wires a Collector from its collaborators.
func NewCollector(perCPU *percpu.Table, perTask *pertask.Table, global *boost.GlobalBoostState, agg *aggregator.Aggregator, rings *ringbuf.Distributed) *Collector {
	return &Collector{PerCPU: perCPU, PerTask: perTask, Global: global, Aggregator: agg, Rings: rings}
}

// ObserveInputLatency implements spec.md §4.9's clamp-on-negative-skew
// rule: latency = now - captureNs, clamped to 0 (ClockSkew policy,
// spec.md §7).
func (c *Collector) ObserveInputLatency(nowNs, captureNs uint64) {
	var latency uint64
	if nowNs > captureNs {
		latency = nowNs - captureNs
	}
	c.Latency.Observe(latency)
}

// Snapshot assembles the current Snapshot. Counters, idle flags, mode,
// utilization and the histogram are read atomically, and the per-task
// pass runs under the per-task table's own lock. The per-CPU VTimeNow,
// PerfLvl and SharedDSQID fields are plain values read without
// synchronization, so under a concurrent Tick or hot-path write they
// may be stale.
func (c *Collector) Snapshot() Snapshot {
	modeStr := "rr"
	if c.Global.Mode() == boost.ModeEDF {
		modeStr = "edf"
	}

	snap := Snapshot{
		Mode:            modeStr,
		UtilizationEWMA: c.Global.Utilization(),
		LatencyHistogram: c.Latency.Snapshot(),
	}

	if c.Aggregator != nil {
		snap.Global = GlobalCounters0{
			DirectDispatches: c.Aggregator.Counters.DirectDispatches.Load(),
			RREnqueues:       c.Aggregator.Counters.RREnqueues.Load(),
			EDFEnqueues:      c.Aggregator.Counters.EDFEnqueues.Load(),
			SharedDispatches: c.Aggregator.Counters.SharedDispatches.Load(),
			Migrations:       c.Aggregator.Counters.Migrations.Load(),
			MigrationBlocked: c.Aggregator.Counters.MigrationBlocked.Load(),
			IdlePicks:        c.Aggregator.Counters.IdlePicks.Load(),
			IdleProbeMisses:  c.Aggregator.Counters.IdleProbeMisses.Load(),
			MMHintHits:       c.Aggregator.Counters.MMHintHits.Load(),
			SyncWakeFastHits: c.Aggregator.Counters.SyncWakeFastHits.Load(),
		}
		snap.MissedAggregatorPeriods = c.Aggregator.MissedPeriods()
	}

	if c.PerCPU != nil {
		snap.PerCPU = make([]PerCPUSnapshot, 0, c.PerCPU.Len())
		c.PerCPU.ForEach(func(cpu int, ctx *percpu.Context) {
			snap.PerCPU = append(snap.PerCPU, PerCPUSnapshot{
				CPU:         cpu,
				Idle:        ctx.Idle.Load(),
				VTimeNow:    ctx.VTimeNow,
				PerfLvl:     ctx.PerfLvl,
				SharedDSQID: ctx.SharedDSQID,
				Counters:    ctx.Counters.Peek(),
			})
		})
	}

	if c.PerTask != nil {
		var misses uint64
		var tracked int
		c.PerTask.ForEach(func(ctx *pertask.Context) {
			misses += ctx.Deadline.DeadlineMisses
			tracked++
		})
		snap.DeadlineMisses = misses
		snap.TrackedTasks = tracked
	}

	if c.Rings != nil {
		snap.RingBufferOverflow = c.Rings.TotalOverflow()
	}

	return snap
}
