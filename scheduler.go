// Package lavdgo is the userspace simulator of a gaming-oriented CPU
// scheduler decision engine: the CORE data structures and algorithms a
// sched_ext BPF gaming scheduler would run in-kernel, driven here by
// plain goroutines instead of real kernel wakeup hooks.
package lavdgo

import (
	"context"
	"sync"
	"time"

	"github.com/lavdgo/lavdgo/internal/aggregator"
	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/classify"
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/config"
	"github.com/lavdgo/lavdgo/internal/deadline"
	"github.com/lavdgo/lavdgo/internal/dispatch"
	"github.com/lavdgo/lavdgo/internal/errdom"
	"github.com/lavdgo/lavdgo/internal/logging"
	"github.com/lavdgo/lavdgo/internal/metricsapi"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
	"github.com/lavdgo/lavdgo/internal/ringbuf"
	"github.com/lavdgo/lavdgo/internal/selector"
)

// Scheduler wires every CORE component (spec.md §2's eleven components)
// into a single runnable unit: per-task/per-CPU tables, classifier,
// boost engine, deadline engine, CPU selector, dispatcher, ring buffer,
// timer/aggregator, and the metrics collector. It plays the role the
// teacher's Device/Backend pairing plays in go-ublk -- the orchestration
// entry point a CLI or test harness constructs once and drives.
type Scheduler struct {
	Cfg        *config.Published
	PerCPU     *percpu.Table
	PerTask    *pertask.Table
	Classifier *classify.Classifier
	Global     *boost.GlobalBoostState
	Dispatcher *dispatch.Dispatcher
	Aggregator *aggregator.Aggregator
	Rings      *ringbuf.Distributed
	Metrics    *metricsapi.Collector
	Clock      clock.Source

	numCPUs    int
	hookSource classify.HookSource

	mu         sync.Mutex
	ringCursor int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler from a validated Config, the number of
// CPUs to drive (must be <= constants.MaxCPUs; the per-CPU table is
// always sized to the full ceiling, this just bounds which entries the
// selector/dispatcher loop consider live), and the hook source feeding
// classifier observations -- a *sim.HookSource in tests/demo mode, a
// production BPF-backed source otherwise (spec.md §6's boundary
// contract, both satisfy classify.HookSource identically).
func New(cfg *config.Config, numCPUs int, hookSource classify.HookSource, clk clock.Source) (*Scheduler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if numCPUs <= 0 {
		return nil, errdom.New(errdom.CodeConfigurationError, "lavdgo.New", "numCPUs must be positive")
	}
	if clk == nil {
		clk = clock.Default
	}

	perCPU := percpu.NewTable()
	perTask := pertask.NewTable()
	global := boost.NewGlobalBoostState()
	published := config.NewPublished(cfg)
	clf := classify.NewClassifier(clk)
	disp := dispatch.NewDispatcher(perCPU)
	agg := aggregator.NewAggregator(perCPU, perTask, global, published, disp, clf, clk, numCPUs)
	rings := ringbuf.NewDistributed()
	collector := metricsapi.NewCollector(perCPU, perTask, global, agg, rings)

	return &Scheduler{
		Cfg:        published,
		PerCPU:     perCPU,
		PerTask:    perTask,
		Classifier: clf,
		Global:     global,
		Dispatcher: disp,
		Aggregator: agg,
		Rings:      rings,
		Metrics:    collector,
		Clock:      clk,
		numCPUs:    numCPUs,
		hookSource: hookSource,
		stopCh:     make(chan struct{}),
	}, nil
}

// NumCPUs returns the number of CPUs this Scheduler drives.
func (s *Scheduler) NumCPUs() int { return s.numCPUs }

// WakeupResult is what OnWakeup hands back to the caller: the selected
// CPU/queue and the deadline that was computed and enqueued for EDF
// ordering.
type WakeupResult struct {
	Selection selector.Selection
	Deadline  uint64
}

// OnWakeup implements the per-wakeup hot path of spec.md §4.2-§4.7: it
// looks up (or lazily creates) the task's context, runs the classifier's
// confidence-gated boost recompute, computes a deadline, runs the CPU
// Selector's seven fast paths plus migration discipline, and enqueues
// the task on the chosen queue. This mirrors a single kernel wakeup
// hook's full body.
func (s *Scheduler) OnWakeup(task pertask.ID, tgid uint32, prevCPU, wakerCPU int, allowed selector.AllowedMask) WakeupResult {
	cfg := s.Cfg.Load()
	now := s.Clock.NowNano()

	ctx, created := s.PerTask.GetOrCreate(task, tgid, now, cfg.MigMax, uint64(cfg.MigRefillNs))
	if created {
		ctx.LastCPU = prevCPU
	}
	if prevCPU < 0 || prevCPU >= s.numCPUs {
		prevCPU = ctx.LastCPU
	}
	if prevCPU < 0 || prevCPU >= s.numCPUs {
		prevCPU = 0
	}

	eligible := s.Classifier.IsBoostEligible(ctx)
	boost.RecomputeBoostShift(ctx, eligible)

	vtime := s.PerCPU.Get(prevCPU).VTimeNow
	inWindow := s.Global.InActiveWindow(now)
	d := deadline.ForTask(ctx, vtime, inWindow, s.Global.LastFrameTs(), s.Global.FramePeriodNs(), cfg.FrameSafetyNs)
	ctx.Deadline.ExpectedDeadline = d

	sel := selector.Select(selector.Params{
		Task:          ctx,
		PrevCPU:       prevCPU,
		WakerCPU:      wakerCPU,
		Allowed:       s.boundAllowedMask(allowed),
		NowNs:         now,
		BaseSliceNs:   cfg.SliceNs,
		PerCPU:        s.PerCPU,
		Global:        s.Global,
		PreferredCPUs: cfg.PreferredCPUs,
	})

	entry := dispatch.Entry{TaskID: task, Deadline: d}
	if sel.UseLocal {
		s.Dispatcher.EnqueueLocal(sel.CPU, entry)
	} else {
		node := s.PerCPU.Get(sel.CPU).SharedDSQID
		mode := s.Global.Mode()
		s.Dispatcher.EnqueueShared(node, entry, mode)
		s.countEnqueueMode(prevCPU, mode, ctx, node)
	}

	ctx.LastCPU = sel.CPU
	ctx.LastNode = s.PerCPU.Get(sel.CPU).SharedDSQID
	ctx.NodeRuntime[ctx.LastNode] += uint64(sel.SliceNs)

	return WakeupResult{Selection: sel, Deadline: d}
}

// boundAllowedMask composes the caller-supplied affinity mask with the
// scheduler's own live-CPU bound: percpu.Table is always sized to the
// fixed ceiling regardless of how many CPUs this Scheduler was told to
// drive (internal/percpu's Table.Len() is always constants.MaxCPUs), so
// without this the idle-core scan could pick a CPU past numCPUs that
// nothing ever marks busy or dispatches on.
func (s *Scheduler) boundAllowedMask(inner selector.AllowedMask) selector.AllowedMask {
	return func(cpu int) bool {
		if cpu < 0 || cpu >= s.numCPUs {
			return false
		}
		return inner == nil || inner(cpu)
	}
}

// countEnqueueMode attributes a shared-queue enqueue to the RR or EDF
// counter on the enqueuing CPU's context, and to the memory-hint
// counter when the chosen node matches the task's own accumulated
// memory hint -- the orchestration-level bookkeeping no single internal
// package has enough context to perform on its own (mode is global
// state, the memory hint is per-task, the counter is per-CPU).
func (s *Scheduler) countEnqueueMode(attributeCPU int, mode boost.Mode, ctx *pertask.Context, node int) {
	counters := &s.PerCPU.Get(attributeCPU).Counters
	if mode == boost.ModeRR {
		counters.RREnqueues.Add(1)
	} else {
		counters.EDFEnqueues.Add(1)
	}
	if ctx.MemoryHintNode() == node {
		counters.MMHintHits.Add(1)
	}
}

// DispatchOne runs one CPU's dispatch-loop step (spec.md §4.7): local
// queue, then same-node shared, then other nodes' shared queues.
func (s *Scheduler) DispatchOne(cpu int) (dispatch.Entry, bool) {
	return s.Dispatcher.DispatchOne(cpu)
}

// SetIdle marks cpu idle or busy; the selector's idle-core search and
// the aggregator's utilization EWMA both read this flag.
func (s *Scheduler) SetIdle(cpu int, idle bool) {
	s.PerCPU.Get(cpu).Idle.Store(idle)
}

// ObserveHookEvent feeds a single hook observation (OS-priority,
// GPU-submit, input-device, compositor-frame) into the classifier and
// recomputes the task's boost shift -- the non-wakeup-path half of
// classification (spec.md §4.3 L1-L3).
func (s *Scheduler) ObserveHookEvent(ev classify.RawHookEvent) {
	cfg := s.Cfg.Load()
	now := s.Clock.NowNano()
	ctx, _ := s.PerTask.GetOrCreate(ev.Task, ev.TGID, now, cfg.MigMax, uint64(cfg.MigRefillNs))

	s.Classifier.ObserveHook(ctx, ev)
	if ev.Kind == classify.HookInputDevice {
		lane := ev.Lane
		if int(lane) < len(cfg.InputWindowNs) {
			durationNs := cfg.InputWindowNs[int(lane)]
			s.Global.SetInputLane(pertask.InputLane(lane), now, durationNs)
		}
	}
	if ev.Kind == classify.HookCompositorFrame {
		s.Global.ObserveFramePresent(ev.FramePresentNs)
	}

	eligible := s.Classifier.IsBoostEligible(ctx)
	boost.RecomputeBoostShift(ctx, eligible)
}

// runHookLoop drains s.hookSource until it is closed or Stop is called.
func (s *Scheduler) runHookLoop() {
	defer s.wg.Done()
	if s.hookSource == nil {
		return
	}
	events := s.hookSource.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.ObserveHookEvent(ev)
		case <-s.stopCh:
			return
		}
	}
}

// DrainInputEvents implements spec.md §4.9's consumer contract: drains
// every pending InputEvent from the distributed ring buffer, feeding
// each one's lane into the global input window and its latency into
// the metrics histogram (clamped to 0 on negative skew, spec.md §7's
// ClockSkew policy).
func (s *Scheduler) DrainInputEvents() int {
	cfg := s.Cfg.Load()
	now := s.Clock.NowNano()

	n := 0
	s.mu.Lock()
	cursor := s.ringCursor
	s.mu.Unlock()

	for {
		e, next, ok := s.Rings.PollAny(cursor)
		if !ok {
			break
		}
		cursor = next
		n++

		lane := pertask.InputLane(e.Lane)
		if lane != pertask.LaneNone && int(lane) < len(cfg.InputWindowNs) {
			s.Global.SetInputLane(lane, now, cfg.InputWindowNs[lane])
		}
		s.Metrics.ObserveInputLatency(now, e.CaptureNs)
	}

	s.mu.Lock()
	s.ringCursor = cursor
	s.mu.Unlock()
	return n
}

// runTimerLoop drives the aggregator's Tick once per WakeupTimerNs and
// drains pending input events each period, mirroring the controller
// thread of spec.md §5 ("consumes ring buffers and drives the
// timer/aggregator").
func (s *Scheduler) runTimerLoop() {
	defer s.wg.Done()
	for {
		cfg := s.Cfg.Load()
		period := time.Duration(cfg.WakeupTimerNs) * time.Nanosecond
		timer := time.NewTimer(period)
		select {
		case <-timer.C:
			s.DrainInputEvents()
			s.Aggregator.Tick(s.Clock.NowNano())
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// Run starts the background hook-observation and timer/aggregator
// loops and blocks until ctx is cancelled or Stop is called, matching
// the teacher's CreateAndServe/context-driven lifecycle.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(2)
	go s.runHookLoop()
	go s.runTimerLoop()

	logging.Default().Info("scheduler started", "cpus", s.numCPUs)
	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}
	s.Stop()
}

// Stop signals every background loop to exit and waits for them to
// finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()
	logging.Default().Info("scheduler stopped")
}

// Snapshot returns the current metrics snapshot (spec.md §6(3)).
func (s *Scheduler) Snapshot() metricsapi.Snapshot {
	return s.Metrics.Snapshot()
}
