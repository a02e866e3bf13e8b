package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_UnknownSourceUnlimited(t *testing.T) {
	l := New(map[string]float64{"bcb": 1})

	for i := 0; i < 5; i++ {
		if !l.Allow("ipea") {
			t.Fatalf("Allow(ipea) = false on call %d, want true", i)
		}
	}
}

func TestLimiter_ZeroMeansUnlimited(t *testing.T) {
	l := New(map[string]float64{"bcb": 0})

	for i := 0; i < 5; i++ {
		if !l.Allow("bcb") {
			t.Fatalf("Allow(bcb) = false on call %d, want true", i)
		}
	}
}

func TestLimiter_Allow(t *testing.T) {
	l := New(map[string]float64{"bcb": 0.5})

	if !l.Allow("bcb") {
		t.Fatal("first Allow() should consume the burst")
	}
	if l.Allow("bcb") {
		t.Error("second Allow() should be throttled")
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := New(map[string]float64{"bcb": 20})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "bcb"); err != nil {
			t.Fatalf("Wait() returned unexpected error: %v", err)
		}
	}

	// burst of 1 at 20 req/s spaces the 2nd and 3rd calls ~50ms apart
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 waits took %v, want at least 80ms", elapsed)
	}
}

func TestLimiter_WaitCanceled(t *testing.T) {
	l := New(map[string]float64{"bcb": 0.01})
	l.Allow("bcb")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "bcb"); err == nil {
		t.Error("Wait() expected error for expiring context, got nil")
	}
}

func TestLimiter_Nil(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background(), "bcb"); err != nil {
		t.Errorf("nil Limiter Wait() = %v, want nil", err)
	}
	if !l.Allow("bcb") {
		t.Error("nil Limiter should allow everything")
	}
}
