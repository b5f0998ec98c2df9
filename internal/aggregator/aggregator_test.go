package aggregator

import (
	"testing"

	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/classify"
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/config"
	"github.com/lavdgo/lavdgo/internal/dispatch"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// testNumCPUs mirrors a realistic live CPU count (cmd/lavdgo's
// --cpus default), well under percpu.Table's fixed MaxCPUs capacity.
const testNumCPUs = 4

func newTestAggregator() *Aggregator {
	return newTestAggregatorWithCPUs(testNumCPUs)
}

func newTestAggregatorWithCPUs(numCPUs int) *Aggregator {
	perCPU := percpu.NewTable()
	perTask := pertask.NewTable()
	global := boost.NewGlobalBoostState()
	cfg := config.NewPublished(config.Default())
	disp := dispatch.NewDispatcher(perCPU)
	clf := classify.NewClassifier(clock.Default)
	return NewAggregator(perCPU, perTask, global, cfg, disp, clf, clock.Default, numCPUs)
}

// TestRollUpCounters checks that the aggregator's roll-up of a CPU's
// counters plus that CPU's post-roll-up local value equals the total
// increments issued.
func TestRollUpCounters(t *testing.T) {
	a := newTestAggregator()
	a.PerCPU.Get(0).Counters.DirectDispatches.Add(3)
	a.PerCPU.Get(1).Counters.DirectDispatches.Add(5)

	a.Tick(1)

	if got := a.Counters.DirectDispatches.Load(); got != 8 {
		t.Fatalf("rolled-up DirectDispatches = %d, want 8", got)
	}
	if got := a.PerCPU.Get(0).Counters.DirectDispatches.Load(); got != 0 {
		t.Fatalf("CPU 0 local counter after roll-up = %d, want 0", got)
	}

	a.PerCPU.Get(0).Counters.DirectDispatches.Add(2)
	a.Tick(2)
	if got := a.Counters.DirectDispatches.Load(); got != 10 {
		t.Fatalf("rolled-up DirectDispatches after second tick = %d, want 10", got)
	}
}

// TestTick_ExpiresWindows checks that an input window is left untouched
// before its deadline and cleared once the tick observes it has passed.
func TestTick_ExpiresWindows(t *testing.T) {
	a := newTestAggregator()
	a.Global.SetInputLane(pertask.LaneMouse, 0, 6_000_000)

	a.Tick(3_000_000)
	if got := a.Global.InputUntil(pertask.LaneMouse); got != 6_000_000 {
		t.Fatalf("window expired too early: InputUntil = %d", got)
	}

	a.Tick(6_000_001)
	if got := a.Global.InputUntil(pertask.LaneMouse); got != 0 {
		t.Fatalf("window should have expired: InputUntil = %d", got)
	}
}

// TestCheckDeadlineMiss checks that boost increases by exactly one
// after two consecutive misses, and any miss-induced boost is cleared
// after two consecutive on-time completions.
func TestCheckDeadlineMiss(t *testing.T) {
	a := newTestAggregator()
	task, _ := a.PerTask.GetOrCreate(1, 1, 0, 4, 1_000_000)
	task.LastCPU = 0
	task.BoostShift = 6
	task.Deadline.ExpectedDeadline = 1000

	a.PerCPU.Get(0).VTimeNow = 2000 // past the deadline: a miss
	a.checkDeadlineMiss(task)
	if task.BoostShift != 6 {
		t.Fatalf("BoostShift after first miss = %d, want unchanged at 6", task.BoostShift)
	}

	a.checkDeadlineMiss(task) // second consecutive miss
	if task.BoostShift != 7 {
		t.Fatalf("BoostShift after second consecutive miss = %d, want 7", task.BoostShift)
	}

	a.PerCPU.Get(0).VTimeNow = 500 // now on time
	a.checkDeadlineMiss(task)
	if task.BoostShift != 7 {
		t.Fatalf("BoostShift after first on-time completion = %d, want still 7", task.BoostShift)
	}
	a.checkDeadlineMiss(task) // second consecutive on-time completion
	if task.BoostShift != 6 {
		t.Fatalf("BoostShift after second consecutive on-time completion = %d, want decayed to 6", task.BoostShift)
	}
}

// TestDeadlineMissRecovery_GPUSubmitTask checks that a gpu_submit task
// at boost_shift 6 misses its deadline twice and bumps to 7, then
// recovers to 6 after two on-time completions.
func TestDeadlineMissRecovery_GPUSubmitTask(t *testing.T) {
	a := newTestAggregator()
	gtask, _ := a.PerTask.GetOrCreate(7, 1, 0, 4, 1_000_000)
	gtask.Role = pertask.RoleGPUSubmit
	gtask.BoostShift = 6
	gtask.LastCPU = 0
	gtask.Deadline.ExpectedDeadline = 0

	a.PerCPU.Get(0).VTimeNow = 1 // miss 1
	a.checkDeadlineMiss(gtask)
	a.PerCPU.Get(0).VTimeNow = 2 // miss 2
	a.checkDeadlineMiss(gtask)
	if gtask.BoostShift != 7 {
		t.Fatalf("Gtask.BoostShift after two misses = %d, want 7", gtask.BoostShift)
	}

	gtask.Deadline.ExpectedDeadline = 100
	a.PerCPU.Get(0).VTimeNow = 3 // on time
	a.checkDeadlineMiss(gtask)
	a.PerCPU.Get(0).VTimeNow = 4 // on time
	a.checkDeadlineMiss(gtask)
	if gtask.BoostShift != 6 {
		t.Fatalf("Gtask.BoostShift after two on-time completions = %d, want decayed to 6", gtask.BoostShift)
	}
}

// TestRecomputeMode_SwitchesToEDFUnderLoad drives every live CPU (not
// the full, always-oversized percpu.Table) busy, the same path
// cmd/lavdgo's runCPUWorker exercises: this is what catches
// recomputeMode dividing by PerCPU.Len() instead of numCPUs, since
// PerCPU.Len() (MaxCPUs=256) would dilute the busy fraction below
// either threshold and the mode would never switch.
func TestRecomputeMode_SwitchesToEDFUnderLoad(t *testing.T) {
	a := newTestAggregator()
	for cpu := 0; cpu < testNumCPUs; cpu++ {
		a.PerCPU.Get(cpu).Idle.Store(false)
	}
	for i := 0; i < 10; i++ {
		a.recomputeMode()
	}
	if a.Global.Mode() != boost.ModeEDF {
		t.Fatalf("Mode() = %v, want ModeEDF once utilization saturates", a.Global.Mode())
	}
}

func TestApplyPriorityInheritance_BoostsStarvedHolder(t *testing.T) {
	a := newTestAggregator()

	waiter, _ := a.PerTask.GetOrCreate(1, 1, 0, 4, 1_000_000)
	waiter.BoostShift = 7
	holder, _ := a.PerTask.GetOrCreate(2, 1, 0, 4, 1_000_000)
	holder.BoostShift = 2

	node := a.PerCPU.Get(0).SharedDSQID
	a.Dispatcher.EnqueueShared(node, dispatch.Entry{TaskID: 1}, boost.ModeRR)

	for cpu := 0; cpu < a.PerCPU.Len(); cpu++ {
		if a.PerCPU.Get(cpu).SharedDSQID == node {
			a.PerCPU.Get(cpu).Idle.Store(false)
		}
	}
	a.PerCPU.Get(0).CurrentTask = 2

	a.applyPriorityInheritance()
	if holder.BoostShift != 3 {
		t.Fatalf("holder.BoostShift = %d, want bumped to 3", holder.BoostShift)
	}
}
