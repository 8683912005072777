// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"fmt"
	"time"
)

// Tier represents an account pricing tier.
type Tier string

const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierElite    Tier = "elite"
	TierBYOK     Tier = "byok"
)

// TierLimits holds the request limits for a single tier.
type TierLimits struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	PerHour   int `yaml:"per_hour" json:"per_hour"`
}

// Limits maps tiers to their request limits.
type Limits map[Tier]TierLimits

// DefaultLimits returns the compiled-in tier limit table.
func DefaultLimits() Limits {
	return Limits{
		TierFree:     {PerMinute: 5, PerHour: 50},
		TierBasic:    {PerMinute: 30, PerHour: 600},
		TierStandard: {PerMinute: 100, PerHour: 3000},
		TierPremium:  {PerMinute: 250, PerHour: 10000},
		TierElite:    {PerMinute: 500, PerHour: 25000},
		TierBYOK:     {PerMinute: 500, PerHour: 25000},
	}
}

// ForTier returns the limits for a tier, falling back to the free tier
// for unknown values so a bad tier string can never disable limiting.
func (l Limits) ForTier(tier Tier) TierLimits {
	if limits, ok := l[tier]; ok {
		return limits
	}
	return l[TierFree]
}

// Validate checks that every configured tier has positive limits.
func (l Limits) Validate() error {
	for tier, limits := range l {
		if limits.PerMinute <= 0 || limits.PerHour <= 0 {
			return fmt.Errorf("tier %q: limits must be positive (got %d/min, %d/hour)", tier, limits.PerMinute, limits.PerHour)
		}
	}
	if _, ok := l[TierFree]; !ok {
		return fmt.Errorf("tier %q must be configured (it is the fallback tier)", TierFree)
	}
	return nil
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Limit and Remaining describe the tightest window (the one with the
	// least headroom) so they can be surfaced as X-RateLimit-* headers.
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`

	// RetryAfter is set on deny: seconds until the earliest slot frees.
	RetryAfter int `json:"retry_after,omitempty"`

	// Degraded is true when the backing store was unavailable and the
	// limiter failed open. Callers must not treat a degraded allow as a
	// counted request.
	Degraded bool `json:"degraded,omitempty"`
}

// RateLimitStatus reports the current window counts for a key, used by
// the status API.
type RateLimitStatus struct {
	Key           string    `json:"key"`
	Tier          Tier      `json:"tier"`
	MinuteCount   int       `json:"minute_count"`
	MinuteLimit   int       `json:"minute_limit"`
	HourCount     int       `json:"hour_count"`
	HourLimit     int       `json:"hour_limit"`
	MinuteResetAt time.Time `json:"minute_reset_at"`
	HourResetAt   time.Time `json:"hour_reset_at"`
}
