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
	"time"
)

// Errors used to pick between refresh and reject. Authenticate never
// returns them; they fold into StateRejected.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// ErrInvalidConfig is returned by NewAuthenticator for unusable settings.
var ErrInvalidConfig = errors.New("invalid session configuration")

// State is the outcome of authenticating one request.
type State int

const (
	// StateUnauthenticated means no credential was presented.
	StateUnauthenticated State = iota
	// StateAuthenticated means the credential is valid, possibly after rotation.
	StateAuthenticated
	// StateRejected means a credential was presented but could not be accepted.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Credential is a signed session token ready to hand to a client.
type Credential struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Result is what Authenticate returns for every request.
type Result struct {
	State     State
	Subject   string
	ExpiresAt time.Time

	// Rotated is set when the presented credential was near expiry and has
	// been replaced. Callers must propagate it to the client.
	Rotated *Credential
}

// Authenticated reports whether the request has a subject.
func (r Result) Authenticated() bool {
	return r.State == StateAuthenticated && r.Subject != ""
}

// Rotation is the per-subject rotation record. It is not a session: it only
// remembers the latest issued token id and the revocation generation.
type Rotation struct {
	UserID     string
	TokenID    string
	Generation int64
	RotatedAt  time.Time
	RevokedAt  *time.Time
}

// RotationStore persists rotation records.
type RotationStore interface {
	// GetRotation returns the record for userID, or a zero record with
	// Generation 0 when none exists.
	GetRotation(ctx context.Context, userID string) (*Rotation, error)

	// RecordRotation stores tokenID as the latest token of userID. Concurrent
	// writers race; the last one wins. The generation is left unchanged.
	RecordRotation(ctx context.Context, userID, tokenID string, at time.Time) error

	// RevokeAll bumps the generation of userID, invalidating every token
	// issued before.
	RevokeAll(ctx context.Context, userID string, at time.Time) error
}
