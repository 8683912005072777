// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"axonflow/gate/gateway/ledger"
	"axonflow/gate/gateway/ratelimit"
)

// FingerprintHeader carries the device fingerprint for trial callers.
const FingerprintHeader = "X-Device-Fingerprint"

var (
	// ErrInvalidCredential means the bearer token failed verification.
	ErrInvalidCredential = errors.New("invalid account credential")

	// ErrMissingIdentity means neither a credential nor a complete
	// trial identity (fingerprint + IP) was supplied.
	ErrMissingIdentity = errors.New("account credential or device fingerprint required")
)

// Identity is the resolved caller of one request: either a paying
// account or a fingerprint+IP trial pair.
type Identity struct {
	AccountID   string
	Tier        ledger.Tier
	Fingerprint string
	IP          string
}

// IsTrial reports whether the caller has no account.
func (id Identity) IsTrial() bool {
	return id.AccountID == ""
}

// TrialKey is the combined key stored on trial execution records.
func (id Identity) TrialKey() string {
	return id.Fingerprint + ":" + id.IP
}

// RateLimitKey returns the limiter key for the caller.
func (id Identity) RateLimitKey() string {
	if id.IsTrial() {
		return "trial:" + id.TrialKey()
	}
	return "account:" + id.AccountID
}

// RateLimitTier maps the account tier onto the limiter's tier table.
// Trial callers are limited as free tier.
func (id Identity) RateLimitTier() ratelimit.Tier {
	if id.IsTrial() {
		return ratelimit.TierFree
	}
	return ratelimit.Tier(id.Tier)
}

// AccountDirectory is the slice of the ledger identity resolution needs.
type AccountDirectory interface {
	GetAccount(ctx context.Context, accountID string) (*ledger.Account, error)
}

// IdentityResolver turns an incoming request into an Identity.
type IdentityResolver struct {
	jwtSecret []byte
	accounts  AccountDirectory
}

// NewIdentityResolver creates a resolver backed by the account directory.
func NewIdentityResolver(jwtSecret []byte, accounts AccountDirectory) *IdentityResolver {
	return &IdentityResolver{jwtSecret: jwtSecret, accounts: accounts}
}

// Resolve picks the account path when a bearer token is present and the
// trial path otherwise. A present-but-invalid token is rejected rather
// than silently downgraded to a trial.
func (r *IdentityResolver) Resolve(ctx context.Context, req *http.Request) (Identity, error) {
	if auth := req.Header.Get("Authorization"); auth != "" {
		return r.resolveAccount(ctx, auth)
	}

	fingerprint := req.Header.Get(FingerprintHeader)
	ip := clientIP(req)
	if fingerprint == "" || ip == "" {
		return Identity{}, ErrMissingIdentity
	}
	return Identity{Fingerprint: fingerprint, IP: ip, Tier: ledger.TierFree}, nil
}

func (r *IdentityResolver) resolveAccount(ctx context.Context, auth string) (Identity, error) {
	raw, found := strings.CutPrefix(auth, "Bearer ")
	if !found || raw == "" {
		return Identity{}, ErrInvalidCredential
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidCredential
	}

	// The tier comes from the directory, not the token, so a tier
	// change takes effect without re-issuing credentials.
	account, err := r.accounts.GetAccount(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, fmt.Errorf("failed to resolve account: %w", err)
	}
	return Identity{AccountID: account.AccountID, Tier: account.Tier}, nil
}

// IssueAccountToken mints an HS256 bearer token for an account. Used by
// provisioning flows and tests.
func IssueAccountToken(secret []byte, accountID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the
// connection's remote address.
func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
