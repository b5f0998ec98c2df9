package clock

import (
	"math"
	"testing"
)

func TestTimeBefore_WrapCorrect(t *testing.T) {
	tests := []struct {
		name  string
		a     uint64
		delta uint64
	}{
		{"no wrap, small delta", 1000, 500},
		{"no wrap, large delta", 0, math.MaxInt64},
		{"wraps past max uint64", math.MaxUint64 - 100, 200},
		{"wraps at exact boundary", math.MaxUint64, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.a + tt.delta
			if tt.delta > 0 && !TimeBefore(tt.a, b) {
				t.Errorf("TimeBefore(%d, %d) = false, want true (delta=%d)", tt.a, b, tt.delta)
			}
			if TimeBefore(b, tt.a) && tt.delta > 0 {
				t.Errorf("TimeBefore(%d, %d) = true, want false (reverse of delta=%d)", b, tt.a, tt.delta)
			}
		})
	}
}

func TestTimeBefore_Equal(t *testing.T) {
	if TimeBefore(42, 42) {
		t.Error("TimeBefore(42, 42) = true, want false")
	}
	if !TimeBeforeEq(42, 42) {
		t.Error("TimeBeforeEq(42, 42) = false, want true")
	}
}

func TestTimeAfter(t *testing.T) {
	if !TimeAfter(100, 50) {
		t.Error("TimeAfter(100, 50) = false, want true")
	}
	if TimeAfter(50, 100) {
		t.Error("TimeAfter(50, 100) = true, want false")
	}
}

func TestFakeClock(t *testing.T) {
	f := NewFake(1000)
	if got := f.NowNano(); got != 1000 {
		t.Errorf("NowNano() = %d, want 1000", got)
	}
	if got := f.Advance(500); got != 1500 {
		t.Errorf("Advance(500) = %d, want 1500", got)
	}
	f.Set(9999)
	if got := f.NowNano(); got != 9999 {
		t.Errorf("NowNano() after Set = %d, want 9999", got)
	}
}

func TestRealClock_Monotonic(t *testing.T) {
	var r Real
	a := r.NowNano()
	b := r.NowNano()
	if TimeBefore(b, a) {
		t.Errorf("real clock went backwards: a=%d b=%d", a, b)
	}
}
