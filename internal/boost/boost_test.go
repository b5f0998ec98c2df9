package boost

import (
	"testing"

	"github.com/lavdgo/lavdgo/internal/pertask"
)

func TestSetInputLane_NeverShrinksWindow(t *testing.T) {
	g := NewGlobalBoostState()
	g.SetInputLane(pertask.LaneMouse, 0, 6_000_000)
	if got := g.InputUntil(pertask.LaneMouse); got != 6_000_000 {
		t.Fatalf("InputUntil = %d, want 6000000", got)
	}

	// A shorter window from an earlier "now" must not shrink it.
	g.SetInputLane(pertask.LaneMouse, 1_000_000, 1_000_000)
	if got := g.InputUntil(pertask.LaneMouse); got != 6_000_000 {
		t.Fatalf("InputUntil after shorter set = %d, want window preserved at 6000000", got)
	}

	// A genuinely later deadline does extend it.
	g.SetInputLane(pertask.LaneMouse, 5_000_000, 3_000_000)
	if got := g.InputUntil(pertask.LaneMouse); got != 8_000_000 {
		t.Fatalf("InputUntil after extension = %d, want 8000000", got)
	}
}

func TestInputUntilGlobal_IsMaxOfLanes(t *testing.T) {
	g := NewGlobalBoostState()
	g.SetInputLane(pertask.LaneMouse, 0, 6_000_000)
	g.SetInputLane(pertask.LaneKeyboard, 0, 8_000_000)
	g.SetInputLane(pertask.LaneGamepad, 0, 10_000_000)
	if got := g.InputUntilGlobal(); got != 10_000_000 {
		t.Fatalf("InputUntilGlobal = %d, want 10000000", got)
	}
}

// TestExpireWindows_OnlyClearsPastDeadlines checks that input_until[lane]
// never decreases except across an expire transition performed by the
// aggregator.
func TestExpireWindows_OnlyClearsPastDeadlines(t *testing.T) {
	g := NewGlobalBoostState()
	g.SetInputLane(pertask.LaneMouse, 0, 6_000_000)

	g.ExpireWindows(3_000_000) // before expiry
	if got := g.InputUntil(pertask.LaneMouse); got != 6_000_000 {
		t.Fatalf("ExpireWindows before deadline changed InputUntil to %d", got)
	}

	g.ExpireWindows(6_000_001) // after expiry
	if got := g.InputUntil(pertask.LaneMouse); got != 0 {
		t.Fatalf("ExpireWindows after deadline = %d, want 0", got)
	}
}

func TestInActiveWindow(t *testing.T) {
	g := NewGlobalBoostState()
	g.SetInputLane(pertask.LaneMouse, 0, 6_000_000)
	if !g.InActiveWindow(1_000_000) {
		t.Fatal("expected active window at t=1ms")
	}
	if g.InActiveWindow(7_000_000) {
		t.Fatal("expected window expired at t=7ms (logical check before ExpireWindows runs)")
	}
}

func TestObserveFramePresent_ComputesPeriod(t *testing.T) {
	g := NewGlobalBoostState()
	g.ObserveFramePresent(1_000_000)
	g.ObserveFramePresent(9_333_333)
	if got := g.FramePeriodNs(); got != 8_333_333 {
		t.Fatalf("FramePeriodNs = %d, want 8333333", got)
	}
}

func TestRecomputeBoostShift_BaseValuesPerRole(t *testing.T) {
	cases := []struct {
		role  pertask.Role
		want  int
	}{
		{pertask.RoleInputHandler, 7},
		{pertask.RoleGPUSubmit, 6},
		{pertask.RoleCompositor, 5},
		{pertask.RoleAudio, 5},
		{pertask.RoleNetwork, 4},
	}
	for _, tc := range cases {
		ctx := pertask.NewContext(1, 1, 0, 4, 1_000_000)
		ctx.Role = tc.role
		ctx.Confidence = 2
		RecomputeBoostShift(ctx, true)
		if ctx.BoostShift != tc.want {
			t.Errorf("role %v: BoostShift = %d, want %d", tc.role, ctx.BoostShift, tc.want)
		}
	}
}

func TestRecomputeBoostShift_NotEligibleIsZero(t *testing.T) {
	ctx := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	ctx.Role = pertask.RoleInputHandler
	ctx.Confidence = 2
	RecomputeBoostShift(ctx, false)
	if ctx.BoostShift != 0 {
		t.Fatalf("BoostShift = %d, want 0 for an ineligible task", ctx.BoostShift)
	}
}

func TestRecomputeBoostShift_LowConfidenceClampsToFloor(t *testing.T) {
	ctx := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	ctx.Role = pertask.RoleInputHandler
	ctx.Confidence = 0
	RecomputeBoostShift(ctx, true)
	if ctx.BoostShift != 3 {
		t.Fatalf("BoostShift = %d, want clamped to floor 3", ctx.BoostShift)
	}
}

func TestRecomputeBoostShift_ExhaustedTokenBucketCostsOneLevel(t *testing.T) {
	ctx := pertask.NewContext(1, 1, 0, 4, 1_000_000)
	ctx.Role = pertask.RoleGPUSubmit
	ctx.Confidence = 2
	ctx.Migration.Tokens = 0
	RecomputeBoostShift(ctx, true)
	if ctx.BoostShift != 5 {
		t.Fatalf("BoostShift = %d, want 5 (base 6 minus one for exhausted tokens)", ctx.BoostShift)
	}
}
