// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package webhook receives payment provider events and turns successful
// payments into credit top-ups.
//
// Every delivery is authenticated with an HMAC-SHA256 signature over the
// raw body before any parsing happens. Payments that cannot be matched
// to an account are parked in a reconciliation queue instead of being
// dropped, and redeliveries of an already-applied event are acknowledged
// without crediting twice.
package webhook
