// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package ratelimit provides per-account, per-tier sliding-window rate
limiting for the AxonFlow Gate.

# Algorithm

The limiter uses a sliding-window counter rather than a fixed window to
avoid burst-at-boundary abuse. For each window (per-minute and per-hour,
checked independently) it keeps two Redis counters, one for the current
bucket and one for the previous bucket, and computes:

	effective = prev_count * (time_remaining / window) + cur_count

A request is admitted only when effective is below the tier limit for
both windows, and counters are incremented only on admit - a denied
check never consumes quota.

# Failure semantics

Rate limiting is a defense-in-depth control, not the money-safety
control; if Redis is unavailable the limiter fails open with a logged
warning and the decision is flagged Degraded so callers can observe it.

# Tier limits

Limits are a static configuration table with compiled-in defaults for
every tier. They can be overridden from the gate's YAML config file.
*/
package ratelimit
