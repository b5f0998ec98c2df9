package deadline

import (
	"testing"

	"github.com/lavdgo/lavdgo/internal/pertask"
)

func TestCompute_LowBoostShiftUsesFullExecAvg(t *testing.T) {
	got := Compute(1000, 500, 2, false)
	if got != 1500 {
		t.Fatalf("Compute = %d, want 1500", got)
	}
}

func TestCompute_InputHandlerInWindowUsesBoostedValue(t *testing.T) {
	got := Compute(1000, 800, 7, true)
	want := uint64(1000 + (800 >> 7))
	if got != want {
		t.Fatalf("Compute = %d, want %d", got, want)
	}
}

func TestCompute_InputHandlerOutOfWindowUsesFullExecAvg(t *testing.T) {
	got := Compute(1000, 800, 7, false)
	if got != 1800 {
		t.Fatalf("Compute = %d, want 1800 (full exec avg when window expired)", got)
	}
}

func TestCompute_GPUAlwaysUsesBoostedValue(t *testing.T) {
	got := Compute(1000, 1_000_000, 6, false)
	want := uint64(1000 + (1_000_000 >> 6))
	if got != want {
		t.Fatalf("Compute = %d, want %d", got, want)
	}
}

func TestClampToFrame_ClampsWhenBeyondFrameBoundary(t *testing.T) {
	// Frame at t=0, period 8.333ms, safety 500us: bound = 7.833ms.
	got := ClampToFrame(20_000_000, pertask.RoleGPUSubmit, 0, 8_333_333, 500_000)
	want := uint64(8_333_333 - 500_000)
	if got != want {
		t.Fatalf("ClampToFrame = %d, want %d", got, want)
	}
}

func TestClampToFrame_LeavesEarlierDeadlineAlone(t *testing.T) {
	got := ClampToFrame(1_000_000, pertask.RoleGPUSubmit, 0, 8_333_333, 500_000)
	if got != 1_000_000 {
		t.Fatalf("ClampToFrame = %d, want unchanged 1000000", got)
	}
}

func TestClampToFrame_IgnoresNonFrameRoles(t *testing.T) {
	got := ClampToFrame(20_000_000, pertask.RoleBackground, 0, 8_333_333, 500_000)
	if got != 20_000_000 {
		t.Fatalf("ClampToFrame = %d, want unchanged for a non-frame role", got)
	}
}

func TestClampToFrame_UnknownPeriodIsNoop(t *testing.T) {
	got := ClampToFrame(20_000_000, pertask.RoleGPUSubmit, 0, 0, 500_000)
	if got != 20_000_000 {
		t.Fatalf("ClampToFrame = %d, want unchanged when frame period unknown", got)
	}
}
