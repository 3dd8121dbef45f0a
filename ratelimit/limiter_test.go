package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_UnlimitedAlwaysAllows(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		if !l.Allow("ep-1", 0) {
			t.Fatal("Allow() with rate limit 0 returned false")
		}
	}
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := New()

	// The bucket starts full, so the first N requests pass.
	for i := 0; i < 5; i++ {
		if !l.Allow("ep-1", 5) {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if l.Allow("ep-1", 5) {
		t.Error("Allow() after burst = true, want false")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New()

	if !l.Allow("ep-1", 1) {
		t.Fatal("first Allow(ep-1) = false")
	}
	if l.Allow("ep-1", 1) {
		t.Error("second Allow(ep-1) = true, want false")
	}
	if !l.Allow("ep-2", 1) {
		t.Error("Allow(ep-2) = false, want true")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l := New()

	l.Allow("ep-1", 1)
	if l.Allow("ep-1", 1) {
		t.Fatal("bucket should be drained")
	}

	l.Reset("ep-1")
	if !l.Allow("ep-1", 1) {
		t.Error("Allow() after Reset = false, want true")
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New()
	l.Allow("ep-1", 1) // drain

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "ep-1", 1); err == nil {
		t.Error("Wait() with drained bucket and short context = nil, want error")
	}
}

func TestLimiter_WaitRefills(t *testing.T) {
	l := New()
	l.Allow("ep-1", 20) // create the bucket, drain one token

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// At 20/s the bucket refills fast enough for 25 sequential waits.
	for i := 0; i < 25; i++ {
		if err := l.Wait(ctx, "ep-1", 20); err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
	}
}
