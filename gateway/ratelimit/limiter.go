// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/gate/shared/clock"
)

type window struct {
	label    string
	duration time.Duration
}

var (
	windowMinute = window{label: "1m", duration: time.Minute}
	windowHour   = window{label: "1h", duration: time.Hour}
)

// Limiter checks and counts requests against per-tier sliding windows
// backed by Redis. Windows survive process restarts because the counters
// live in Redis, not in process memory.
type Limiter struct {
	client *redis.Client
	limits Limits
	clock  clock.Clock
	logger *log.Logger
}

// NewLimiter creates a limiter with the given Redis client and limit
// table. A nil limits table uses the compiled-in defaults.
func NewLimiter(client *redis.Client, limits Limits, clk clock.Clock, logger *log.Logger) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Limiter{client: client, limits: limits, clock: clk, logger: logger}
}

// Limits returns the active limit table.
func (l *Limiter) Limits() Limits {
	return l.limits
}

// Check evaluates the sliding windows for key at the given tier. Both
// the per-minute and per-hour windows must pass; counters are
// incremented only when the request is admitted. On Redis failure the
// limiter fails open and flags the decision Degraded.
func (l *Limiter) Check(ctx context.Context, key string, tier Tier) (*Decision, error) {
	limits := l.limits.ForTier(tier)
	now := l.clock.Now()

	minuteState, err := l.readWindow(ctx, key, windowMinute, now)
	if err != nil {
		return l.failOpen(key, limits, now, err), nil
	}
	hourState, err := l.readWindow(ctx, key, windowHour, now)
	if err != nil {
		return l.failOpen(key, limits, now, err), nil
	}

	minuteDecision := minuteState.evaluate(limits.PerMinute)
	hourDecision := hourState.evaluate(limits.PerHour)

	decision := &Decision{
		Allowed: minuteDecision.allowed && hourDecision.allowed,
		ResetAt: minuteState.bucketStart.Add(windowMinute.duration),
	}

	// Surface the tightest window in the headers.
	if minuteDecision.remaining <= hourDecision.remaining {
		decision.Limit = limits.PerMinute
		decision.Remaining = minuteDecision.remaining
	} else {
		decision.Limit = limits.PerHour
		decision.Remaining = hourDecision.remaining
		decision.ResetAt = hourState.bucketStart.Add(windowHour.duration)
	}

	if !decision.Allowed {
		retry := minuteDecision.retryAfter
		if hourDecision.retryAfter > retry {
			retry = hourDecision.retryAfter
		}
		decision.RetryAfter = retry
		decision.Remaining = 0
		return decision, nil
	}

	if err := l.consume(ctx, key, now); err != nil {
		// The check already passed; a failed increment means this
		// request goes uncounted, which errs on the permissive side.
		l.logger.Printf("[RateLimit] Warning: failed to record request for %s: %v", key, err)
	}
	if decision.Remaining > 0 {
		decision.Remaining--
	}
	return decision, nil
}

// Status returns the raw window counts for a key without consuming quota.
func (l *Limiter) Status(ctx context.Context, key string, tier Tier) (*RateLimitStatus, error) {
	limits := l.limits.ForTier(tier)
	now := l.clock.Now()

	minuteState, err := l.readWindow(ctx, key, windowMinute, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read minute window for %s: %w", key, err)
	}
	hourState, err := l.readWindow(ctx, key, windowHour, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read hour window for %s: %w", key, err)
	}

	return &RateLimitStatus{
		Key:           key,
		Tier:          tier,
		MinuteCount:   int(math.Ceil(minuteState.effective())),
		MinuteLimit:   limits.PerMinute,
		HourCount:     int(math.Ceil(hourState.effective())),
		HourLimit:     limits.PerHour,
		MinuteResetAt: minuteState.bucketStart.Add(windowMinute.duration),
		HourResetAt:   hourState.bucketStart.Add(windowHour.duration),
	}, nil
}

// Flush removes all window counters for a key (admin operation).
func (l *Limiter) Flush(ctx context.Context, key string) error {
	now := l.clock.Now()
	keys := make([]string, 0, 4)
	for _, w := range []window{windowMinute, windowHour} {
		cur := now.Truncate(w.duration)
		keys = append(keys,
			bucketKey(key, w, cur),
			bucketKey(key, w, cur.Add(-w.duration)),
		)
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data for %s: %w", key, err)
	}
	return nil
}

// IsHealthy reports whether the backing store is reachable.
func (l *Limiter) IsHealthy(ctx context.Context) bool {
	return l.client.Ping(ctx).Err() == nil
}

// windowState holds the two-bucket counts for one window at one instant.
type windowState struct {
	win         window
	bucketStart time.Time
	elapsed     time.Duration
	curCount    int64
	prevCount   int64
}

// effective computes the sliding-window weighted count:
// prev * (time_remaining / window) + cur.
func (s *windowState) effective() float64 {
	remaining := s.win.duration - s.elapsed
	weight := float64(remaining) / float64(s.win.duration)
	return float64(s.prevCount)*weight + float64(s.curCount)
}

type windowDecision struct {
	allowed    bool
	remaining  int
	retryAfter int
}

func (s *windowState) evaluate(limit int) windowDecision {
	effective := s.effective()
	if effective < float64(limit) {
		remaining := int(float64(limit) - effective)
		return windowDecision{allowed: true, remaining: remaining}
	}
	return windowDecision{retryAfter: s.retryAfter(limit)}
}

// retryAfter estimates the seconds until the weighted count decays below
// the limit. The previous bucket's contribution decays linearly as the
// window slides; the current bucket only stops counting once it becomes
// the previous bucket and starts decaying itself.
func (s *windowState) retryAfter(limit int) int {
	windowSecs := s.win.duration.Seconds()
	remainingSecs := (s.win.duration - s.elapsed).Seconds()

	if s.prevCount > 0 {
		// Solve prev*((remaining - t)/window) + cur < limit for t.
		t := remainingSecs - (float64(limit)-float64(s.curCount))*windowSecs/float64(s.prevCount)
		if t > 0 && float64(s.curCount) < float64(limit) {
			return clampRetry(t, remainingSecs)
		}
	}

	// The current bucket alone is at or over the limit: wait for the
	// bucket roll, then for enough linear decay of what is now the
	// previous bucket.
	decay := 0.0
	if s.curCount > 0 {
		decay = windowSecs * (1 - float64(limit)/float64(s.curCount))
	}
	return clampRetry(remainingSecs+math.Max(decay, 0), windowSecs+remainingSecs)
}

func clampRetry(secs, ceiling float64) int {
	if secs < 1 {
		secs = 1
	}
	if secs > ceiling {
		secs = ceiling
	}
	return int(math.Ceil(secs))
}

func (l *Limiter) readWindow(ctx context.Context, key string, w window, now time.Time) (*windowState, error) {
	cur := now.Truncate(w.duration)
	prev := cur.Add(-w.duration)

	pipe := l.client.Pipeline()
	curCmd := pipe.Get(ctx, bucketKey(key, w, cur))
	prevCmd := pipe.Get(ctx, bucketKey(key, w, prev))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	return &windowState{
		win:         w,
		bucketStart: cur,
		elapsed:     now.Sub(cur),
		curCount:    intResult(curCmd),
		prevCount:   intResult(prevCmd),
	}, nil
}

// consume increments the current bucket of both windows.
func (l *Limiter) consume(ctx context.Context, key string, now time.Time) error {
	pipe := l.client.Pipeline()
	for _, w := range []window{windowMinute, windowHour} {
		k := bucketKey(key, w, now.Truncate(w.duration))
		pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, 2*w.duration)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Limiter) failOpen(key string, limits TierLimits, now time.Time, err error) *Decision {
	l.logger.Printf("[RateLimit] Warning: store unavailable for %s, failing open: %v", key, err)
	return &Decision{
		Allowed:   true,
		Limit:     limits.PerMinute,
		Remaining: limits.PerMinute,
		ResetAt:   now.Truncate(time.Minute).Add(time.Minute),
		Degraded:  true,
	}
}

func bucketKey(key string, w window, start time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", key, w.label, start.Unix())
}

func intResult(cmd *redis.StringCmd) int64 {
	n, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return n
}
