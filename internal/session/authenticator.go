// Copyright 2026 The OpenTrusty Authors
//
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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/citygate/internal/id"
	"github.com/opentrusty/citygate/internal/observability/logger"
	"github.com/opentrusty/citygate/internal/observability/metrics"
)

// Config holds credential settings
type Config struct {
	Secret        []byte
	Issuer        string
	Lifetime      time.Duration
	RefreshWindow time.Duration
	Leeway        time.Duration
}

// Claims carried by a session credential.
type Claims struct {
	Generation int64 `json:"gen"`
	jwt.RegisteredClaims
}

// Authenticator validates and rotates session credentials. It holds no
// per-request or per-subject state; everything it remembers lives in the
// RotationStore.
type Authenticator struct {
	cfg     Config
	store   RotationStore
	metrics *metrics.AuthzMetrics
	parser  *jwt.Parser
	now     func() time.Time
}

// NewAuthenticator creates a new authenticator. m may be nil.
func NewAuthenticator(cfg Config, store RotationStore, m *metrics.AuthzMetrics) (*Authenticator, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("%w: secret must be at least 32 bytes", ErrInvalidConfig)
	}
	if cfg.Lifetime <= 0 {
		return nil, fmt.Errorf("%w: lifetime must be positive", ErrInvalidConfig)
	}
	if cfg.RefreshWindow < 0 || cfg.RefreshWindow >= cfg.Lifetime {
		return nil, fmt.Errorf("%w: refresh window must be shorter than the lifetime", ErrInvalidConfig)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "citygate"
	}

	a := &Authenticator{
		cfg:     cfg,
		store:   store,
		metrics: m,
		now:     time.Now,
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a, nil
}

// Lifetime returns the configured credential lifetime.
func (a *Authenticator) Lifetime() time.Duration {
	return a.cfg.Lifetime
}

// Issue creates a fresh credential for userID, typically after login.
func (a *Authenticator) Issue(ctx context.Context, userID string) (Credential, error) {
	if userID == "" {
		return Credential{}, fmt.Errorf("%w: empty subject", ErrTokenInvalid)
	}
	rot, err := a.store.GetRotation(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to read rotation record: %w", err)
	}
	return a.mint(ctx, userID, rot.Generation)
}

// Authenticate validates raw and rotates it when it is within the refresh
// window. It never fails: every problem is reported through Result.State.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) Result {
	if raw == "" {
		return Result{State: StateUnauthenticated}
	}

	claims, err := a.parse(raw)
	if err != nil {
		slog.DebugContext(ctx, "credential rejected", logger.Component("session"), logger.Error(err))
		return Result{State: StateRejected}
	}

	rot, err := a.store.GetRotation(ctx, claims.Subject)
	if err != nil {
		slog.WarnContext(ctx, "rotation store unavailable, rejecting credential",
			logger.Component("session"), logger.UserID(claims.Subject), logger.Error(err))
		return Result{State: StateRejected}
	}
	if claims.Generation != rot.Generation {
		slog.DebugContext(ctx, "credential revoked", logger.Component("session"), logger.UserID(claims.Subject))
		return Result{State: StateRejected}
	}

	expiresAt := claims.ExpiresAt.Time
	res := Result{State: StateAuthenticated, Subject: claims.Subject, ExpiresAt: expiresAt}

	if expiresAt.Sub(a.now()) >= a.cfg.RefreshWindow {
		return res
	}

	rotated, err := a.mint(ctx, claims.Subject, claims.Generation)
	if err != nil {
		slog.WarnContext(ctx, "credential refresh failed",
			logger.Component("session"), logger.UserID(claims.Subject), logger.Error(err))
		return Result{State: StateRejected}
	}
	a.metrics.Rotation(ctx)
	res.Rotated = &rotated
	res.ExpiresAt = rotated.ExpiresAt
	return res
}

// RevokeAll invalidates every credential of userID issued so far.
func (a *Authenticator) RevokeAll(ctx context.Context, userID string) error {
	return a.store.RevokeAll(ctx, userID, a.now())
}

func (a *Authenticator) mint(ctx context.Context, userID string, generation int64) (Credential, error) {
	now := a.now()
	tokenID := id.NewUUIDv7()
	claims := Claims{
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.Lifetime)),
			ID:        tokenID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to sign credential: %w", err)
	}

	if err := a.store.RecordRotation(ctx, userID, tokenID, now); err != nil {
		return Credential{}, fmt.Errorf("failed to record rotation: %w", err)
	}

	return Credential{
		Token:     signed,
		TokenID:   tokenID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// parse verifies signature, issuer and expiry. Errors are ErrTokenExpired or ErrTokenInvalid.
func (a *Authenticator) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
