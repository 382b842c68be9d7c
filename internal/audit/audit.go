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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeLoginSuccess     = "login_success"
	TypeLoginFailed      = "login_failed"
	TypeLogout           = "logout"
	TypeSessionRotated   = "session_rotated"
	TypeSessionRevoked   = "session_revoked"
	TypeUserCreated      = "user_created"
	TypeUserRoleChanged  = "user_role_changed"
	TypeUserDeactivated  = "user_deactivated"
	TypeUserLocked       = "user_locked"
	TypePasswordChanged  = "password_changed"
	TypeTenantCreated    = "tenant_created"
	TypeTenantStatus     = "tenant_status_changed"
	TypeGrantCreated     = "grant_created"
	TypeGrantUpdated     = "grant_updated"
	TypeGrantRevoked     = "grant_revoked"
	TypeResourceCreated  = "resource_created"
	TypeResourceUpdated  = "resource_updated"
	TypeResourceDeleted  = "resource_deleted"
	TypeAccessDenied     = "access_denied"
	TypeSuperuserCreated = "superuser_bootstrap"
)

// Resources
const (
	ResourceSession = "session"
	ResourceUser    = "user"
	ResourceTenant  = "tenant"
	ResourceGrant   = "grant"
)

// Metadata keys
const (
	AttrReason   = "reason"
	AttrAttempts = "attempts"
	AttrEmail    = "email"
	AttrUserID   = "user_id"
	AttrRole     = "role"
	AttrOldRole  = "old_role"
	AttrClass    = "class"
	AttrPath     = "path"
	AttrSlug     = "slug"
)

// ActorSystemBootstrap is recorded as the actor of bootstrap-time changes.
const ActorSystemBootstrap = "system:bootstrap"

// Event represents an auditable action
type Event struct {
	Type      string
	TenantID  string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a new audit logger writing through the default slog logger.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// NewSlogLoggerWith creates an audit logger writing through l.
func NewSlogLoggerWith(l *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: l}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("tenant_id", event.TenantID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	lg := l.logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// NopLogger discards every event.
type NopLogger struct{}

// Log implements Logger.
func (NopLogger) Log(context.Context, Event) {}

var secretMarkers = []string{"password", "secret", "token", "key", "hash", "credential", "authorization", "cookie"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
