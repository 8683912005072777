// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the AxonFlow Gate service.
//
// The Gate is the execution admission and credit metering service that:
// - Rate-limits execution requests per account tier (sliding windows)
// - Admits unauthenticated callers through a fingerprint+IP free trial
// - Reserves, commits, and releases credit for every paid execution
// - Applies payment provider webhooks as idempotent credit top-ups
// - Force-releases orphaned reservations via a background sweep
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string (required)
//	REDIS_URL - Redis connection string (default: redis://localhost:6379)
//	JWT_SECRET - HS256 secret for account credentials (required)
//	PAYMENT_WEBHOOK_SECRET - shared secret for webhook signatures (required)
//	AGENT_EXECUTOR_ENDPOINT - agent executor base URL (required)
//	KAFKA_BROKERS - comma-separated brokers for operator alerts (optional)
//	GATE_CONFIG - path to a YAML config file (optional)
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"axonflow/gate/gateway"
)

func main() {
	gateway.Run()
}
