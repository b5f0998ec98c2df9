package selector

import (
	"testing"

	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

func newParams(task *pertask.Context, prevCPU int) Params {
	return Params{
		Task:        task,
		PrevCPU:     prevCPU,
		WakerCPU:    -1,
		NowNs:       0,
		BaseSliceNs: constants.DefaultSliceNs,
		PerCPU:      percpu.NewTable(),
		Global:      boost.NewGlobalBoostState(),
	}
}

// TestSelect_InputHandlerInWindow checks that an input_handler task
// woken while now < input_until_global returns its previous CPU with a
// local queue and a quarter slice.
func TestSelect_InputHandlerInWindow(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	task.Role = pertask.RoleInputHandler

	p := newParams(task, 5)
	p.Global.SetInputLane(pertask.LaneMouse, 0, 6_000_000)
	p.NowNs = 1_000_000

	got := Select(p)
	if got.CPU != 5 || !got.UseLocal {
		t.Fatalf("Select = %+v, want prev CPU 5 local", got)
	}
	if got.SliceNs != constants.DefaultSliceNs/4 {
		t.Fatalf("SliceNs = %d, want base/4 = %d", got.SliceNs, constants.DefaultSliceNs/4)
	}
	if got.Path != PathInputWindow {
		t.Fatalf("Path = %v, want PathInputWindow", got.Path)
	}
}

// TestSelect_GPUPreferredCoreFastPath checks that a gpu_submit task
// with a still-idle preferred physical core takes the fast path with no
// idle scan.
func TestSelect_GPUPreferredCoreFastPath(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	task.Role = pertask.RoleGPUSubmit
	task.Preferred.CPU = 2

	p := newParams(task, 7) // prevCPU != preferred core, to prove the preferred core wins
	got := Select(p)

	if got.CPU != 2 || !got.UseLocal {
		t.Fatalf("Select = %+v, want preferred core 2 local", got)
	}
	if got.Path != PathGPUPreferredCore {
		t.Fatalf("Path = %v, want PathGPUPreferredCore", got.Path)
	}
	if p.PerCPU.Get(7).Counters.IdleProbeMisses.Load() != 0 {
		t.Fatal("no idle scan should have executed on the fast path")
	}
}

func TestSelect_PrevCPUIdleFastPath(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	p := newParams(task, 3)
	got := Select(p)
	if got.CPU != 3 || !got.UseLocal || got.Path != PathPrevCPUIdle {
		t.Fatalf("Select = %+v, want prev CPU 3 local via PathPrevCPUIdle", got)
	}
}

func TestSelect_SyncWakeFastPath(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	p := newParams(task, 3)
	p.PerCPU.Get(3).Idle.Store(false) // prev busy, forces fallthrough to sync-wake check
	p.WakerCPU = 9
	got := Select(p)
	if got.CPU != 9 || got.Path != PathSyncWake {
		t.Fatalf("Select = %+v, want waker CPU 9 via PathSyncWake", got)
	}
}

func TestSelect_PreferredScanPicksFirstIdleEntry(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	p := newParams(task, 3)
	p.PerCPU.Get(3).Idle.Store(false)
	p.PreferredCPUs = []int{10, 11, 12}
	p.PerCPU.Get(10).Idle.Store(false)
	p.PerCPU.Get(11).Idle.Store(false)
	p.PerCPU.Get(12).Idle.Store(true)

	got := Select(p)
	if got.CPU != 12 || got.Path != PathPreferredScan {
		t.Fatalf("Select = %+v, want CPU 12 via PathPreferredScan", got)
	}
}

// TestSelect_MigrationBlocked checks that after mig_max tokens are
// exhausted, a cross-CPU wakeup is blocked back onto prev_cpu's shared
// queue and MigrationBlocked is counted; after waiting a refill period,
// migration succeeds again.
func TestSelect_MigrationBlocked(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 2, 1_000 /* 1 token per 1us for a fast test */)
	p := newParams(task, 3)
	p.PerCPU.Get(3).Idle.Store(false) // force a migration every time
	p.PreferredCPUs = []int{20}

	// First two cross-CPU wakeups succeed (cap = 2 tokens).
	for i := 0; i < 2; i++ {
		got := Select(p)
		if got.CPU != 20 || !got.Migrated {
			t.Fatalf("wakeup %d: Select = %+v, want a successful migration to CPU 20", i, got)
		}
	}

	// Third wakeup at the same instant: tokens exhausted, falls back.
	got := Select(p)
	if got.CPU != 3 || got.UseLocal {
		t.Fatalf("third wakeup: Select = %+v, want blocked back to prev CPU's shared queue", got)
	}
	if p.PerCPU.Get(3).Counters.MigrationBlocked.Load() != 1 {
		t.Fatal("MigrationBlocked counter should have incremented")
	}

	// After a full refill period, migration succeeds again.
	p.NowNs = 1_000
	got = Select(p)
	if got.CPU != 20 || !got.Migrated {
		t.Fatalf("after refill: Select = %+v, want migration to succeed again", got)
	}
}

func TestSelect_AnyIdle_PrefersSameNUMANode(t *testing.T) {
	task := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	task.NodeRuntime[1] = 1000 // memory hint points at node 1

	p := newParams(task, 3)
	p.PerCPU.Get(3).Idle.Store(false)

	// CPU 16's SharedDSQID % MaxNUMANodes == 16 % 8 == 0; CPU 17 == 1.
	got := Select(p)
	if got.Path != PathAnyIdle {
		t.Fatalf("Path = %v, want PathAnyIdle", got.Path)
	}
	if p.PerCPU.Get(got.CPU).SharedDSQID != 1 {
		t.Fatalf("selected CPU %d has SharedDSQID %d, want node 1 (memory hint)", got.CPU, p.PerCPU.Get(got.CPU).SharedDSQID)
	}
}
