// Package aggregator implements the Timer & Aggregator of spec.md
// §4.8: the periodic task that rolls per-CPU counters into globals,
// expires input windows, recomputes utilization and the RR/EDF mode,
// detects deadline misses, decays classification retreat, refills
// migration token buckets, updates perf_lvl hints, and approximates
// priority inheritance.
package aggregator

import (
	"sync/atomic"

	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/classify"
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/config"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/dispatch"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// GlobalCounters is the process-wide roll-up of every PerCPUContext's
// local counters (spec.md §3 PerCPUContext): only ever incremented
// here, by the aggregator's single-threaded tick.
type GlobalCounters struct {
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

func (g *GlobalCounters) add(s percpu.Snapshot) {
	g.DirectDispatches.Add(s.DirectDispatches)
	g.RREnqueues.Add(s.RREnqueues)
	g.EDFEnqueues.Add(s.EDFEnqueues)
	g.SharedDispatches.Add(s.SharedDispatches)
	g.Migrations.Add(s.Migrations)
	g.MigrationBlocked.Add(s.MigrationBlocked)
	g.IdlePicks.Add(s.IdlePicks)
	g.IdleProbeMisses.Add(s.IdleProbeMisses)
	g.MMHintHits.Add(s.MMHintHits)
	g.SyncWakeFastHits.Add(s.SyncWakeFastHits)
}

// Aggregator bundles every table the periodic tick touches.
type Aggregator struct {
	PerCPU     *percpu.Table
	PerTask    *pertask.Table
	Global     *boost.GlobalBoostState
	Cfg        *config.Published
	Dispatcher *dispatch.Dispatcher
	Classifier *classify.Classifier
	Clock      clock.Source

	Counters GlobalCounters

	// numCPUs is how many of PerCPU's fixed constants.MaxCPUs entries
	// are actually live. PerCPU.Len() always reports the full table
	// capacity, not this count; recomputeMode divides by numCPUs so the
	// utilization EWMA actually reaches the RR/EDF thresholds instead of
	// being capped at numCPUs/MaxCPUs forever.
	numCPUs int

	lastTickNs  atomic.Uint64
	missedTicks atomic.Uint64
}

// NewAggregator wires an Aggregator from its collaborators. numCPUs is
// the number of CPUs actually driven by the caller (see the numCPUs
// field doc) and should not exceed PerCPU.Len(); a non-positive value
// falls back to PerCPU.Len().
func NewAggregator(perCPU *percpu.Table, perTask *pertask.Table, global *boost.GlobalBoostState, cfg *config.Published, disp *dispatch.Dispatcher, clf *classify.Classifier, clk clock.Source, numCPUs int) *Aggregator {
	if numCPUs <= 0 {
		numCPUs = perCPU.Len()
	}
	return &Aggregator{
		PerCPU:     perCPU,
		PerTask:    perTask,
		Global:     global,
		Cfg:        cfg,
		Dispatcher: disp,
		Classifier: clf,
		Clock:      clk,
		numCPUs:    numCPUs,
	}
}

// Tick runs one aggregation period at nowNs. Failure to call Tick for
// one or more periods is safe per spec.md §4.8: per-CPU counters stay
// monotonic and are simply rolled up, unexpired, whenever Tick next
// runs; RecordMissedPeriod lets a watchdog track how many periods were
// skipped.
func (a *Aggregator) Tick(nowNs uint64) {
	a.rollUpCounters()
	a.Global.ExpireWindows(nowNs)
	a.recomputeMode()
	a.scanTasks(nowNs)
	a.updatePerfLevels()
	a.applyPriorityInheritance()
	a.lastTickNs.Store(nowNs)
}

// RecordMissedPeriod lets a watchdog note that Tick failed to run for
// one configured period; recovery simply resumes with accumulated
// counts (spec.md §4.8's "Failure" paragraph).
func (a *Aggregator) RecordMissedPeriod() {
	a.missedTicks.Add(1)
}

// MissedPeriods returns the cumulative count recorded by
// RecordMissedPeriod, for the metrics snapshot / logged watchdog warning.
func (a *Aggregator) MissedPeriods() uint64 {
	return a.missedTicks.Load()
}

// rollUpCounters implements spec.md §4.8's "For each CPU: add local
// counters to globals, zero locals. First 8 CPUs unrolled" -- the pass
// is split into a loop over the first UnrolledAggregatorCPUs CPUs and a
// loop over the remainder; both are plain bounded loops with the same
// body, and neither is unrolled by hand.
func (a *Aggregator) rollUpCounters() {
	n := a.PerCPU.Len()
	unrolled := constants.UnrolledAggregatorCPUs
	if unrolled > n {
		unrolled = n
	}
	for i := 0; i < unrolled; i++ {
		a.Counters.add(a.PerCPU.Get(i).Counters.ReadAndZero())
	}
	for i := unrolled; i < n; i++ {
		a.Counters.add(a.PerCPU.Get(i).Counters.ReadAndZero())
	}
}

// recomputeMode derives a busy-fraction utilization EWMA from the
// fraction of live CPUs currently not idle, and applies spec.md §4.7's
// hysteresis to pick RR vs EDF. It divides by a.numCPUs, not
// PerCPU.Len() (always the fixed constants.MaxCPUs capacity): scanning
// or dividing by the full table would dilute the fraction by every
// CPU the caller never drives, capping utilization at numCPUs/MaxCPUs
// and making the EDF threshold unreachable.
func (a *Aggregator) recomputeMode() {
	busy := 0
	for cpu := 0; cpu < a.numCPUs; cpu++ {
		if !a.PerCPU.Get(cpu).Idle.Load() {
			busy++
		}
	}
	busyFraction := float64(busy) / float64(a.numCPUs)

	const alpha = 0.2
	prevEWMA := a.Global.Utilization()
	newEWMA := alpha*busyFraction + (1-alpha)*prevEWMA
	a.Global.SetUtilization(newEWMA)

	cfg := a.Cfg.Load()
	next := dispatch.ModeForUtilization(a.Global.Mode(), newEWMA, cfg.RRThresholdPct, cfg.EDFThresholdPct)
	a.Global.SetMode(next)
}

// scanTasks implements spec.md §4.8's per-task pass: deadline-miss
// detection and boost bump/decay, classification retreat decay
// (SPEC_FULL.md), and migration-token refill.
func (a *Aggregator) scanTasks(nowNs uint64) {
	a.PerTask.ForEach(func(ctx *pertask.Context) {
		a.checkDeadlineMiss(ctx)
		a.Classifier.ApplyRetreatDecay(ctx, nowNs, uint64(constants.DefaultRetreatWindowNs))
		ctx.Migration.Refill(nowNs)
	})
}

// checkDeadlineMiss: after >=2 consecutive misses,
// boost_shift increases by exactly one (capped at 7); after >=2
// consecutive on-time completions, any miss-induced boost is cleared.
func (a *Aggregator) checkDeadlineMiss(ctx *pertask.Context) {
	if ctx.LastCPU < 0 || ctx.LastCPU >= a.PerCPU.Len() {
		return
	}
	currentVtime := a.PerCPU.Get(ctx.LastCPU).VTimeNow

	if clock.TimeBefore(ctx.Deadline.ExpectedDeadline, currentVtime) {
		ctx.Deadline.DeadlineMisses++
		ctx.Deadline.ConsecutiveMisses++
		ctx.Deadline.ConsecutiveOnTime = 0
		if ctx.Deadline.ConsecutiveMisses >= constants.DefaultConsecutiveForDecay {
			if ctx.BoostShift < constants.MaxBoostShift {
				ctx.BoostShift++
				ctx.Deadline.MissInducedBoost++
			}
			ctx.Deadline.ConsecutiveMisses = 0
		}
		return
	}

	ctx.Deadline.ConsecutiveOnTime++
	ctx.Deadline.ConsecutiveMisses = 0
	if ctx.Deadline.ConsecutiveOnTime >= constants.DefaultConsecutiveForDecay && ctx.Deadline.MissInducedBoost > 0 {
		dec := ctx.Deadline.MissInducedBoost
		ctx.BoostShift -= dec
		if ctx.BoostShift < constants.MinBoostShift {
			ctx.BoostShift = constants.MinBoostShift
		}
		ctx.Deadline.MissInducedBoost = 0
		ctx.Deadline.ConsecutiveOnTime = 0
	}
}

// updatePerfLevels implements SPEC_FULL.md's perf_lvl hinting: a CPU
// a busy CPU whose current task is boosted at or above
// constants.BaseBoostNetwork+1 is set to the top performance level
// (1024); on every other tick its level drops by 128, reaching 0 after
// eight such ticks.
func (a *Aggregator) updatePerfLevels() {
	const maxPerfLvl = 1024
	const boostedPerfLvl = 1024
	const decayStep = 128

	a.PerCPU.ForEach(func(_ int, ctx *percpu.Context) {
		holder := a.PerTask.Get(pertask.ID(ctx.CurrentTask))
		if holder != nil && holder.BoostShift >= 5 && !ctx.Idle.Load() {
			ctx.PerfLvl = boostedPerfLvl
			return
		}
		if ctx.PerfLvl > decayStep {
			ctx.PerfLvl -= decayStep
		} else {
			ctx.PerfLvl = 0
		}
		if ctx.PerfLvl > maxPerfLvl {
			ctx.PerfLvl = maxPerfLvl
		}
	})
}

// applyPriorityInheritance implements spec.md §4.8's approximate
// priority inheritance, scoped per SPEC_FULL.md's Open Question
// resolution to the concrete, boundable "task blocked on an
// idle-starved shared queue head" check: for each NUMA node, if no CPU
// on that node is idle and the shared queue's head waiter has a higher
// effective priority (boost_shift) than the lowest-priority holder
// currently running on that node, the holder's boost_shift is
// temporarily raised by one (capped at MaxBoostShift).
func (a *Aggregator) applyPriorityInheritance() {
	for node := 0; node < constants.MaxNUMANodes; node++ {
		waiterEntry, ok := a.Dispatcher.PeekShared(node)
		if !ok {
			continue
		}
		waiter := a.PerTask.Get(waiterEntry.TaskID)
		if waiter == nil {
			continue
		}

		anyIdle := false
		holderCPU := -1
		holderBoost := constants.MaxBoostShift + 1
		a.PerCPU.ForEach(func(cpu int, ctx *percpu.Context) {
			if ctx.SharedDSQID != node {
				return
			}
			if ctx.Idle.Load() {
				anyIdle = true
				return
			}
			if ctx.CurrentTask == 0 {
				return
			}
			holder := a.PerTask.Get(pertask.ID(ctx.CurrentTask))
			if holder == nil {
				return
			}
			if holder.BoostShift < holderBoost {
				holderBoost = holder.BoostShift
				holderCPU = cpu
			}
		})
		if anyIdle || holderCPU == -1 {
			continue
		}
		if holderBoost < waiter.BoostShift {
			holder := a.PerTask.Get(pertask.ID(a.PerCPU.Get(holderCPU).CurrentTask))
			if holder != nil && holder.BoostShift < constants.MaxBoostShift {
				holder.BoostShift++
			}
		}
	}
}
