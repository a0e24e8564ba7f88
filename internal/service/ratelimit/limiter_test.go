package ratelimit

import (
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Allow("coingecko", 3, 0) {
			t.Fatalf("token %d denied within capacity", i)
		}
	}
	if l.Allow("coingecko", 3, 0) {
		t.Fatalf("empty bucket must deny")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New()
	// Capacity 1 at 50 tokens/s: drained immediately, one token back
	// after 20ms.
	if !l.Allow("binance", 1, 50) {
		t.Fatalf("first token denied")
	}
	if l.Allow("binance", 1, 50) {
		t.Fatalf("bucket must be empty right after draining")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("binance", 1, 50) {
		t.Fatalf("bucket must refill over time")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0) {
		t.Fatalf("first key denied")
	}
	if l.Allow("a", 1, 0) {
		t.Fatalf("drained key must deny")
	}
	if !l.Allow("b", 1, 0) {
		t.Fatalf("fresh key must have its own bucket")
	}
}
