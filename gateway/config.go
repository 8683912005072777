// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"axonflow/gate/gateway/ratelimit"
)

// Config is the optional YAML configuration (GATE_CONFIG). Everything
// has a compiled-in default so the service runs with no file at all.
type Config struct {
	// TierLimits overrides the default rate limit table per tier.
	TierLimits map[string]ratelimit.TierLimits `yaml:"tier_limits"`

	// OperationCosts maps operation names to their credit cost as
	// decimal strings. Unlisted operations use DefaultCost.
	OperationCosts map[string]string `yaml:"operation_costs"`
	DefaultCost    string            `yaml:"default_cost"`

	// TrialQuota is the number of free executions per fingerprint+IP.
	TrialQuota int `yaml:"trial_quota"`

	// ExecutorTimeout bounds a single agent executor call.
	ExecutorTimeout time.Duration `yaml:"executor_timeout"`

	// ReconcileInterval and StaleAfter drive the background sweep that
	// force-releases orphaned reservations.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCost:       "1.00",
		TrialQuota:        3,
		ExecutorTimeout:   60 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		StaleAfter:        15 * time.Minute,
	}
}

// LoadConfig reads the YAML file at path, layered over the defaults.
// An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.TrialQuota <= 0 {
		return config, fmt.Errorf("trial_quota must be positive (got %d)", config.TrialQuota)
	}
	return config, nil
}

// RateLimits builds the limiter table from the config overrides.
func (c Config) RateLimits() (ratelimit.Limits, error) {
	limits := ratelimit.DefaultLimits()
	for tier, override := range c.TierLimits {
		limits[ratelimit.Tier(tier)] = override
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return limits, nil
}

// CostTable resolves the credit cost of an operation.
type CostTable struct {
	costs       map[string]decimal.Decimal
	defaultCost decimal.Decimal
}

// Costs builds the cost table from the config.
func (c Config) Costs() (*CostTable, error) {
	defaultCost, err := decimal.NewFromString(c.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("invalid default_cost %q: %w", c.DefaultCost, err)
	}
	if defaultCost.Sign() <= 0 {
		return nil, fmt.Errorf("default_cost must be positive (got %s)", c.DefaultCost)
	}

	table := &CostTable{
		costs:       make(map[string]decimal.Decimal, len(c.OperationCosts)),
		defaultCost: defaultCost,
	}
	for operation, raw := range c.OperationCosts {
		cost, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid cost %q for operation %q: %w", raw, operation, err)
		}
		if cost.Sign() <= 0 {
			return nil, fmt.Errorf("cost for operation %q must be positive (got %s)", operation, raw)
		}
		table.costs[operation] = cost
	}
	return table, nil
}

// Cost returns the credit cost of the operation.
func (t *CostTable) Cost(operation string) decimal.Decimal {
	if cost, ok := t.costs[operation]; ok {
		return cost
	}
	return t.defaultCost
}
