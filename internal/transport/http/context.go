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

package http

import (
	"context"

	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/session"
	"github.com/opentrusty/citygate/internal/tenant"
)

type contextKey string

const (
	userKey       contextKey = "user"
	tenantKey     contextKey = "tenant"
	credentialKey contextKey = "credential"
)

// GetUserID retrieves the authenticated User ID from context.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return ""
}

// GetUser retrieves the authenticated user loaded by the gatekeeper.
func GetUser(ctx context.Context) *identity.User {
	if val, ok := ctx.Value(userKey).(*identity.User); ok {
		return val
	}
	return nil
}

// GetTenant retrieves the tenant resolved from the route's {tenant} segment.
func GetTenant(ctx context.Context) *tenant.Tenant {
	if val, ok := ctx.Value(tenantKey).(*tenant.Tenant); ok {
		return val
	}
	return nil
}

// GetTenantID retrieves the resolved tenant ID from context.
func GetTenantID(ctx context.Context) string {
	if t := GetTenant(ctx); t != nil {
		return t.ID
	}
	return ""
}

// CredentialFromContext returns the credential rotated during this request,
// if any. Downstream code that forwards the credential must prefer it over
// the one the client sent.
func CredentialFromContext(ctx context.Context) (session.Credential, bool) {
	c, ok := ctx.Value(credentialKey).(session.Credential)
	return c, ok
}

func withUser(ctx context.Context, u *identity.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func withTenant(ctx context.Context, t *tenant.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

func withCredential(ctx context.Context, c session.Credential) context.Context {
	return context.WithValue(ctx, credentialKey, c)
}
