// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package trial tracks free-trial usage for unauthenticated callers.
//
// Callers are identified by a device fingerprint plus client IP. Each
// pair gets a fixed number of free executions; consumption is an atomic
// compare-and-increment so concurrent requests can never overdraw the
// quota. Records are never deleted, so exhaustion is permanent and
// survives restarts.
package trial
