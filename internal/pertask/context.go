// Package pertask implements the per-task context table of spec.md
// §3/§4.2: created lazily on first wakeup, destroyed on task exit,
// O(1) lookup by task identity. Mutations to a single task's Context are
// serialized by the kernel's per-task guarantee (spec.md §5), so Context
// itself uses plain fields, not atomics -- the table's map access is what
// needs its own synchronization, since multiple CPUs may wake distinct
// (or, at lookup time, momentarily the same) tasks concurrently.
package pertask

import (
	"sync"

	"github.com/lavdgo/lavdgo/internal/constants"
)

// ID is the opaque task identity (spec.md's "identity: opaque task
// handle").
type ID uint64

// Role is the tagged classification variant of spec.md §9's
// "Classification polymorphism" redesign note: a closed set, not an
// inheritance hierarchy.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleInputHandler
	RoleGPUSubmit
	RoleCompositor
	RoleAudio
	RoleNetwork
	RoleBackground
)

func (r Role) String() string {
	switch r {
	case RoleInputHandler:
		return "input_handler"
	case RoleGPUSubmit:
		return "gpu_submit"
	case RoleCompositor:
		return "compositor"
	case RoleAudio:
		return "audio"
	case RoleNetwork:
		return "network"
	case RoleBackground:
		return "background"
	default:
		return "unknown"
	}
}

// InputLane mirrors ringbuf.Lane without importing the ringbuf package,
// keeping this leaf package dependency-free; the classifier converts
// between the two at the boundary where a hook event becomes a
// classification hint.
type InputLane uint8

const (
	LaneNone InputLane = iota
	LaneMouse
	LaneKeyboard
	LaneGamepad
)

// ExecStats is the moving-average execution/wakeup profile spec.md §3
// lists under PerTaskContext.
type ExecStats struct {
	AvgBurstNs       uint64 // moving average of burst length in ns
	LastRunNs        uint64
	WakeupHz         float64
	VoluntarySwitch  uint64
	InvoluntarySwitch uint64
	WakeupCount      uint64 // sample count, gates L4 confidence
}

// TokenBucket is the migration rate-limiter of spec.md §4.6: a task
// consumes one token per cross-CPU move, refilled at a configurable
// rate, capped at Cap.
type TokenBucket struct {
	Tokens       float64
	Cap          float64
	RefillPerNs  float64 // tokens per nanosecond
	LastRefillNs uint64
}

// NewTokenBucket creates a full bucket with the given cap and refill
// period (nanoseconds per single token, matching Config.MigRefillNs).
func NewTokenBucket(cap float64, refillNs uint64, nowNs uint64) TokenBucket {
	rate := 0.0
	if refillNs > 0 {
		rate = 1.0 / float64(refillNs)
	}
	return TokenBucket{Tokens: cap, Cap: cap, RefillPerNs: rate, LastRefillNs: nowNs}
}

// Refill advances the bucket to nowNs, adding tokens accumulated since
// LastRefillNs (capped at Cap). Tokens refilled between
// any two instants t1 < t2 is at least floor((t2-t1)/mig_refill_ns), up
// to the cap, because refill is linear in elapsed time with no
// rounding down below the exact linear rate.
func (b *TokenBucket) Refill(nowNs uint64) {
	if nowNs <= b.LastRefillNs {
		return
	}
	elapsed := nowNs - b.LastRefillNs
	b.Tokens += float64(elapsed) * b.RefillPerNs
	if b.Tokens > b.Cap {
		b.Tokens = b.Cap
	}
	b.LastRefillNs = nowNs
}

// TryConsume refills to nowNs, then consumes one token if available.
// Returns false (consuming nothing) if the bucket is empty.
func (b *TokenBucket) TryConsume(nowNs uint64) bool {
	b.Refill(nowNs)
	if b.Tokens < 1.0 {
		return false
	}
	b.Tokens -= 1.0
	return true
}

// PreferredCore tracks the GPU-submitter "hot physical core" cache of
// spec.md §3/§4.6.
type PreferredCore struct {
	CPU       int // constants.NoPreferredCore when unset
	HitCount  uint64
	LastHitNs uint64
}

// DeadlineTracking holds the deadline-miss bookkeeping of spec.md §3/§8:
// expected_deadline, a monotonic miss counter, and the consecutive
// run/miss streak used to decay a miss-induced boost.
type DeadlineTracking struct {
	ExpectedDeadline   uint64
	DeadlineMisses     uint64
	ConsecutiveMisses  int
	ConsecutiveOnTime  int
	MissInducedBoost   int // extra boost_shift applied by the aggregator, capped
}

// Context is the per-task state block (spec.md §3's PerTaskContext).
// Exactly one classification primary Role is set, or RoleUnknown.
// BoostShift is derived from Role by boost.RecomputeBoostShift; it is 0
// for RoleUnknown, for RoleBackground, and for a task not eligible for
// a boost, whatever its Role.
type Context struct {
	ID ID

	Role              Role
	InputChainBoosted bool
	Confidence        int // sample-count-derived confidence gate for L4/L5

	Stats ExecStats

	BoostShift    int // 0..7
	InputLaneHint InputLane

	Preferred PreferredCore
	Deadline  DeadlineTracking

	PageFaultRate float64

	Migration TokenBucket

	// NodeRuntime is the time-on-node accumulator used to derive the
	// NUMA memory hint (SPEC_FULL.md "NUMA node derivation").
	NodeRuntime [constants.MaxNUMANodes]uint64
	LastNode    int

	// LastCPU is the previous CPU this task ran on, read by the
	// selector's "previous CPU" fast paths.
	LastCPU int

	// LastInputBurstNs is the last time an input-rate burst was
	// observed, used by classification retreat (SPEC_FULL.md).
	LastInputBurstNs uint64

	TGID uint32 // thread group id, for the fg_tgid / whitelist check
}

// NewContext creates a freshly observed task's Context with sentinel
// defaults (no preferred core, token bucket full at cap, unknown role).
func NewContext(id ID, tgid uint32, nowNs uint64, migCap float64, migRefillNs uint64) *Context {
	return &Context{
		ID:   id,
		TGID: tgid,
		Preferred: PreferredCore{
			CPU: constants.NoPreferredCore,
		},
		Migration: NewTokenBucket(migCap, migRefillNs, nowNs),
		LastCPU:   constants.NoPreferredCore,
		LastNode:  -1,
	}
}

// MemoryHintNode returns the NUMA node with the most accumulated
// runtime, ties broken by LastNode (most-recently-run), or -1 if the
// task has no recorded runtime yet.
func (c *Context) MemoryHintNode() int {
	best := -1
	var bestTime uint64
	for node, t := range c.NodeRuntime {
		if t > bestTime || (t == bestTime && t > 0 && node == c.LastNode) {
			best = node
			bestTime = t
		}
	}
	return best
}

// Table is the lazily-populated, O(1)-lookup map of task identity to
// Context. Access is guarded by a single mutex: contention is expected
// to be low because most mutation happens through a pointer obtained
// once at wakeup and then used without re-locking (per spec.md §4.2's
// "single intrusive per-task handle obtained at runnable time" redesign
// note), and the lock only guards the map's structure, not the Context
// fields themselves.
type Table struct {
	mu   sync.Mutex
	byID map[ID]*Context
}

// NewTable constructs an empty per-task table.
func NewTable() *Table {
	return &Table{byID: make(map[ID]*Context, constants.MaxTasks)}
}

// GetOrCreate returns the existing Context for id, or lazily creates one
// using the supplied defaults. The second return value reports whether
// a new Context was created.
func (t *Table) GetOrCreate(id ID, tgid uint32, nowNs uint64, migCap float64, migRefillNs uint64) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byID[id]; ok {
		return c, false
	}
	c := NewContext(id, tgid, nowNs, migCap, migRefillNs)
	t.byID[id] = c
	return c, true
}

// Get returns the Context for id, or nil if the task has never been
// observed (or has already exited).
func (t *Table) Get(id ID) *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// Remove destroys the Context for id, called on task exit.
func (t *Table) Remove(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// Len returns the number of currently tracked tasks.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// ForEach invokes fn for every tracked task. fn must not call back into
// the table (Remove/GetOrCreate) -- it runs under the table's lock, used
// by the aggregator's per-tick scan of deadline state.
func (t *Table) ForEach(fn func(*Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.byID {
		fn(c)
	}
}
