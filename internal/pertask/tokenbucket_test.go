package pertask

import "testing"

func TestTokenBucket_StartsFull(t *testing.T) {
	b := NewTokenBucket(4, 1_000_000, 0)
	if b.Tokens != 4 {
		t.Fatalf("Tokens = %v, want 4", b.Tokens)
	}
}

func TestTokenBucket_ConsumeDrainsAndBlocks(t *testing.T) {
	b := NewTokenBucket(2, 1_000_000, 0)
	if !b.TryConsume(0) {
		t.Fatal("first consume should succeed")
	}
	if !b.TryConsume(0) {
		t.Fatal("second consume should succeed")
	}
	if b.TryConsume(0) {
		t.Fatal("third consume at same instant should fail, bucket is empty")
	}
}

// TestTokenBucket_RefillRate checks that tokens refill at the
// configured rate between any two instants, up to the bucket's cap.
func TestTokenBucket_RefillRate(t *testing.T) {
	const refillNs = 1_000_000 // 1 token per 1ms
	b := NewTokenBucket(4, refillNs, 0)

	// Drain the bucket.
	for i := 0; i < 4; i++ {
		if !b.TryConsume(0) {
			t.Fatalf("consume %d should succeed while bucket starts full", i)
		}
	}

	// After 3.5ms, we expect at least floor(3.5) = 3 tokens refilled.
	b.Refill(3_500_000)
	if b.Tokens < 3 {
		t.Fatalf("Tokens after 3.5ms = %v, want >= 3", b.Tokens)
	}

	// Refilling does not exceed the cap even after a long gap.
	b.Refill(1_000_000_000)
	if b.Tokens > b.Cap {
		t.Fatalf("Tokens = %v exceeds cap %v", b.Tokens, b.Cap)
	}
}

func TestTokenBucket_RefillThenConsumeAfterWait(t *testing.T) {
	b := NewTokenBucket(2, 1_000_000, 0)
	b.TryConsume(0)
	b.TryConsume(0)
	if b.TryConsume(500_000) {
		t.Fatal("consume after half the refill period should still fail")
	}
	if !b.TryConsume(1_000_000) {
		t.Fatal("consume after a full refill period should succeed")
	}
}
