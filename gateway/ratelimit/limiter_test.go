// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"axonflow/gate/shared/clock"
)

func newTestLimiter(t *testing.T, limits Limits) (*Limiter, *miniredis.Miniredis, *clock.ManualClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// Start mid-minute so window math has a non-zero elapsed component.
	clk := clock.NewManualClock(time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC))
	return NewLimiter(client, limits, clk, nil), mr, clk
}

func TestCheckAllowsUpToMinuteLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Limits{TierFree: {PerMinute: 5, PerHour: 50}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := limiter.Check(ctx, "acct-1", TierFree)
		if err != nil {
			t.Fatalf("check %d failed: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	decision, err := limiter.Check(ctx, "acct-1", TierFree)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("6th request within the minute should be denied")
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("denied decision must carry retry_after > 0, got %d", decision.RetryAfter)
	}
	if decision.RetryAfter > 90 {
		t.Fatalf("retry_after %d exceeds any plausible wait for a 1-minute window", decision.RetryAfter)
	}
	if decision.Remaining != 0 {
		t.Fatalf("denied decision should report 0 remaining, got %d", decision.Remaining)
	}
}

func TestDeniedCheckDoesNotConsumeQuota(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, Limits{TierFree: {PerMinute: 2, PerHour: 50}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := limiter.Check(ctx, "acct-1", TierFree); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// Denied checks must not add to the window counters.
	for i := 0; i < 10; i++ {
		if d, _ := limiter.Check(ctx, "acct-1", TierFree); d.Allowed {
			t.Fatal("over-limit request should be denied")
		}
	}

	// After the previous window has fully decayed the key is clean again:
	// had the denied checks counted, the previous bucket would deny us.
	clk.Advance(2 * time.Minute)
	if d, _ := limiter.Check(ctx, "acct-1", TierFree); !d.Allowed {
		t.Fatal("request after window decay should be allowed")
	}
}

func TestPreviousWindowWeighsIntoCurrent(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, Limits{TierFree: {PerMinute: 4, PerHour: 1000}})
	ctx := context.Background()

	// Fill the current minute.
	for i := 0; i < 4; i++ {
		if d, _ := limiter.Check(ctx, "acct-1", TierFree); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 15s into the next minute: the previous bucket still weighs in at
	// 4 * (45/60) = 3, leaving headroom for exactly one request.
	clk.Set(time.Date(2025, 6, 1, 12, 1, 15, 0, time.UTC))

	d, _ := limiter.Check(ctx, "acct-1", TierFree)
	if !d.Allowed {
		t.Fatal("first request of the new window should fit under the weighted count")
	}
	d, _ = limiter.Check(ctx, "acct-1", TierFree)
	if d.Allowed {
		t.Fatal("second request should be denied by the weighted previous window")
	}
}

func TestHourWindowDeniesIndependently(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, Limits{TierFree: {PerMinute: 100, PerHour: 3}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, _ := limiter.Check(ctx, "acct-1", TierFree)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		// Spread across minutes so the minute window never trips.
		clk.Advance(2 * time.Minute)
	}

	d, _ := limiter.Check(ctx, "acct-1", TierFree)
	if d.Allowed {
		t.Fatal("4th request should be denied by the hour window")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry_after from hour window, got %d", d.RetryAfter)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Limits{TierFree: {PerMinute: 1, PerHour: 50}})
	ctx := context.Background()

	if d, _ := limiter.Check(ctx, "acct-1", TierFree); !d.Allowed {
		t.Fatal("first request for acct-1 should be allowed")
	}
	if d, _ := limiter.Check(ctx, "acct-1", TierFree); d.Allowed {
		t.Fatal("second request for acct-1 should be denied")
	}
	if d, _ := limiter.Check(ctx, "acct-2", TierFree); !d.Allowed {
		t.Fatal("acct-2 must not be affected by acct-1's window")
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, nil)
	mr.Close()

	d, err := limiter.Check(context.Background(), "acct-1", TierElite)
	if err != nil {
		t.Fatalf("fail-open check must not return an error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("limiter must fail open when the store is unavailable")
	}
	if !d.Degraded {
		t.Fatal("fail-open decision must be flagged degraded")
	}
}

func TestStatusReportsCountsWithoutConsuming(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Limits{TierFree: {PerMinute: 5, PerHour: 50}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := limiter.Check(ctx, "acct-1", TierFree); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	status, err := limiter.Status(ctx, "acct-1", TierFree)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.MinuteCount != 3 {
		t.Fatalf("expected minute count 3, got %d", status.MinuteCount)
	}
	if status.MinuteLimit != 5 || status.HourLimit != 50 {
		t.Fatalf("unexpected limits in status: %+v", status)
	}

	// Status is read-only: the two remaining slots are still available.
	for i := 0; i < 2; i++ {
		if d, _ := limiter.Check(ctx, "acct-1", TierFree); !d.Allowed {
			t.Fatalf("slot %d should still be free after status call", i+1)
		}
	}
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	limits := DefaultLimits()
	got := limits.ForTier(Tier("made-up"))
	if got != limits[TierFree] {
		t.Fatalf("unknown tier should fall back to free limits, got %+v", got)
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := DefaultLimits().Validate(); err != nil {
		t.Fatalf("default limits must validate: %v", err)
	}
	bad := Limits{TierFree: {PerMinute: 0, PerHour: 50}}
	if err := bad.Validate(); err == nil {
		t.Fatal("zero per-minute limit must fail validation")
	}
	noFree := Limits{TierElite: {PerMinute: 1, PerHour: 1}}
	if err := noFree.Validate(); err == nil {
		t.Fatal("limits without a free tier must fail validation")
	}
}
