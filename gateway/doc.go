// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package gateway is the execution admission gate in front of pay-per-use
// agent executions.
//
// Every metered request passes three gates before the agent executor is
// invoked: a sliding-window rate limit, identity resolution (paying
// account vs free trial), and a credit reservation. The reservation is
// committed when the executor succeeds and released when it fails or
// times out, so a caller is never charged for an execution that produced
// nothing.
//
// Subpackages hold the collaborators: ratelimit (Redis sliding windows),
// trial (fingerprint+IP free quota), ledger (credit accounts and the
// append-only transaction log), webhook (payment provider top-ups), and
// opsalert (the operator alert queue).
package gateway
