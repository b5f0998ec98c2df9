// Package selector implements the CPU Selector of spec.md §4.6: given a
// waking task, its previous CPU, a wake-sync hint, and an allowed mask,
// it picks a target CPU and a queue (local vs shared), following the
// fast-path ordering spec.md §4.6 specifies, with NUMA-aware tie-breaks
// and migration-token discipline.
package selector

import (
	"github.com/lavdgo/lavdgo/internal/boost"
	"github.com/lavdgo/lavdgo/internal/constants"
	"github.com/lavdgo/lavdgo/internal/percpu"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// AllowedMask reports whether cpu may run the waking task (cpu affinity
// mask). A nil mask allows every CPU.
type AllowedMask func(cpu int) bool

// FastPath names which of spec.md §4.6's seven ordered rules produced a
// Selection, for observability and tests.
type FastPath int

const (
	PathInputWindow FastPath = iota
	PathGPUPreferredCore
	PathSyncWake
	PathPrevCPUIdle
	PathPreferredScan
	PathAnyIdle
	PathSharedFallback
)

// Selection is the selector's output: a target CPU and a queue choice.
type Selection struct {
	CPU      int
	UseLocal bool // true: prev/target CPU's local queue; false: shared queue
	SliceNs  int64
	Migrated bool // true if CPU != PrevCPU
	Path     FastPath
}

// Params bundles the selector's inputs (spec.md §4.6's "Entry: task,
// previous CPU, wake-sync hint, allowed mask").
type Params struct {
	Task     *pertask.Context
	PrevCPU  int
	WakerCPU int // -1 if this was not a synchronous wake
	Allowed  AllowedMask
	NowNs    uint64
	BaseSliceNs int64

	PerCPU       *percpu.Table
	Global       *boost.GlobalBoostState
	PreferredCPUs []int // NUMA-ordered scan list, Config.PreferredCPUs
}

func allowed(mask AllowedMask, cpu int) bool {
	return mask == nil || mask(cpu)
}

func idle(t *percpu.Table, cpu int) bool {
	return cpu >= 0 && cpu < t.Len() && t.Get(cpu).Idle.Load()
}

// Select runs spec.md §4.6's seven fast paths in order, first match
// wins, then applies migration-token discipline (spec.md §4.6's last
// paragraph): if the chosen CPU differs from PrevCPU, a token is
// consumed unless the task is input_handler or gpu_submit within an
// active window; if no token is available the selection falls back to
// PrevCPU's shared queue (path 7) and MigrationBlocked is counted on
// PrevCPU's PerCPUContext.
func Select(p Params) Selection {
	sel := selectFastPath(p)
	if sel.CPU == p.PrevCPU {
		return sel
	}
	sel.Migrated = true

	withinActiveWindow := p.Global != nil && p.Global.InActiveWindow(p.NowNs)
	exempt := (p.Task.Role == pertask.RoleInputHandler || p.Task.Role == pertask.RoleGPUSubmit) && withinActiveWindow
	if exempt {
		return sel
	}
	if p.Task.Migration.TryConsume(p.NowNs) {
		if p.PerCPU != nil {
			p.PerCPU.Get(p.PrevCPU).Counters.Migrations.Add(1)
		}
		return sel
	}

	if p.PerCPU != nil {
		p.PerCPU.Get(p.PrevCPU).Counters.MigrationBlocked.Add(1)
	}
	return Selection{
		CPU:      p.PrevCPU,
		UseLocal: false,
		SliceNs:  p.BaseSliceNs,
		Migrated: false,
		Path:     PathSharedFallback,
	}
}

func selectFastPath(p Params) Selection {
	// 1. Input handler within the global input window: previous CPU,
	// local queue, quarter slice.
	if p.Task.Role == pertask.RoleInputHandler && p.Global != nil && p.Global.InActiveWindow(p.NowNs) {
		return Selection{CPU: p.PrevCPU, UseLocal: true, SliceNs: p.BaseSliceNs / 4, Path: PathInputWindow}
	}

	// 2. gpu_submit with a still-idle preferred physical core.
	if p.Task.Role == pertask.RoleGPUSubmit && p.Task.Preferred.CPU != constants.NoPreferredCore {
		core := p.Task.Preferred.CPU
		if idle(p.PerCPU, core) && allowed(p.Allowed, core) {
			return Selection{CPU: core, UseLocal: true, SliceNs: p.BaseSliceNs, Path: PathGPUPreferredCore}
		}
	}

	// 3. Synchronous wake-up with sensible affinity.
	if p.WakerCPU >= 0 && idle(p.PerCPU, p.WakerCPU) && allowed(p.Allowed, p.WakerCPU) {
		if p.PerCPU != nil {
			p.PerCPU.Get(p.WakerCPU).Counters.SyncWakeFastHits.Add(1)
		}
		return Selection{CPU: p.WakerCPU, UseLocal: true, SliceNs: p.BaseSliceNs, Path: PathSyncWake}
	}

	// 4. Previous CPU if idle.
	if idle(p.PerCPU, p.PrevCPU) && allowed(p.Allowed, p.PrevCPU) {
		return Selection{CPU: p.PrevCPU, UseLocal: true, SliceNs: p.BaseSliceNs, Path: PathPrevCPUIdle}
	}

	// 5. Bounded preferred-CPU scan (at most MaxScanCPUs entries, plain
	// loop), NUMA-aware (same node as the memory hint first -- the
	// caller is expected to have already ordered PreferredCPUs that way).
	if cpu, ok := scanPreferred(p); ok {
		return Selection{CPU: cpu, UseLocal: true, SliceNs: p.BaseSliceNs, Path: PathPreferredScan}
	}

	// 6. Any idle CPU in the allowed mask.
	if cpu, ok := scanAnyIdle(p); ok {
		if p.PerCPU != nil {
			p.PerCPU.Get(cpu).Counters.IdlePicks.Add(1)
		}
		return Selection{CPU: cpu, UseLocal: true, SliceNs: p.BaseSliceNs, Path: PathAnyIdle}
	}

	// 7. Fallback: previous CPU's shared queue (same NUMA node).
	if p.PerCPU != nil {
		p.PerCPU.Get(p.PrevCPU).Counters.IdleProbeMisses.Add(1)
	}
	return Selection{CPU: p.PrevCPU, UseLocal: false, SliceNs: p.BaseSliceNs, Path: PathSharedFallback}
}

// scanPreferred walks p.PreferredCPUs up to MaxScanCPUs entries in a
// plain loop; no prefix is unrolled by hand (Go has no manual-unroll
// benefit over a bounded for-loop the
// compiler already unrolls at low trip counts; the bound itself is what
// spec.md §4.6 requires, not the unrolling mechanism).
func scanPreferred(p Params) (int, bool) {
	n := len(p.PreferredCPUs)
	if n > constants.MaxScanCPUs {
		n = constants.MaxScanCPUs
	}
	for i := 0; i < n; i++ {
		cpu := p.PreferredCPUs[i]
		if idle(p.PerCPU, cpu) && allowed(p.Allowed, cpu) {
			return cpu, true
		}
	}
	return 0, false
}

// scanAnyIdle performs the full idle-core search across every CPU,
// preferring the CPU in the same NUMA node as the task's memory hint
// when more than one idle CPU is available (spec.md §4.6's tie-break).
func scanAnyIdle(p Params) (int, bool) {
	if p.PerCPU == nil {
		return 0, false
	}
	hintNode := p.Task.MemoryHintNode()
	best := -1
	bestSameNode := false
	for cpu := 0; cpu < p.PerCPU.Len(); cpu++ {
		if !idle(p.PerCPU, cpu) || !allowed(p.Allowed, cpu) {
			continue
		}
		sameNode := hintNode >= 0 && p.PerCPU.Get(cpu).SharedDSQID == hintNode
		if best == -1 {
			best, bestSameNode = cpu, sameNode
			continue
		}
		if sameNode && !bestSameNode {
			best, bestSameNode = cpu, sameNode
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
