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

package authz

import (
	"context"
	"log/slog"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/opentrusty/citygate/internal/observability/logger"
	"github.com/opentrusty/citygate/internal/tenant"
)

// Enforcer applies the uniform read/write rule to every resource class.
// Every rule is expressed through Checker alone; no rule reads a protected
// table through another rule.
type Enforcer struct {
	checker     Checker
	registry    *Registry
	auditLogger audit.Logger
}

// NewEnforcer creates an enforcer over the given predicates and classes.
func NewEnforcer(checker Checker, registry *Registry, auditLogger audit.Logger) *Enforcer {
	return &Enforcer{
		checker:     checker,
		registry:    registry,
		auditLogger: auditLogger,
	}
}

// Registry returns the classes this enforcer protects.
func (e *Enforcer) Registry() *Registry {
	return e.registry
}

// Checker returns the predicates this enforcer is built from.
func (e *Enforcer) Checker() Checker {
	return e.checker
}

// CanRead reports whether callerID may read rows owned by tenantID.
// Unknown answers are denials.
func (e *Enforcer) CanRead(ctx context.Context, callerID, tenantID string) bool {
	ok, err := e.checker.HasTenantAccess(ctx, callerID, tenantID)
	if err != nil {
		e.unknown(ctx, "read", callerID, tenantID, err)
		return false
	}
	return ok
}

// AuthorizeWrite returns ErrForbidden unless callerID may mutate rows of
// class owned by tenantID.
func (e *Enforcer) AuthorizeWrite(ctx context.Context, callerID string, class ResourceClass, tenantID string) error {
	var (
		ok  bool
		err error
	)
	if class.OperatorWritable {
		ok, err = e.checker.HasTenantAccess(ctx, callerID, tenantID)
	} else {
		ok, err = e.checker.IsTenantAdmin(ctx, callerID, tenantID)
	}
	if err != nil {
		e.unknown(ctx, "write", callerID, tenantID, err)
		ok = false
	}
	if !ok {
		e.denied(ctx, callerID, tenantID, class.Name)
		return ErrForbidden
	}
	return nil
}

// CanReadGrant reports whether callerID may see grant: its own row, or any
// row for a superuser.
func (e *Enforcer) CanReadGrant(ctx context.Context, callerID string, grant *tenant.Grant) bool {
	if grant == nil || callerID == "" {
		return false
	}
	if grant.UserID == callerID {
		return true
	}
	ok, err := e.checker.IsSuperuser(ctx, callerID)
	if err != nil {
		e.unknown(ctx, "read_grant", callerID, grant.TenantID, err)
		return false
	}
	return ok
}

// AuthorizeGrantWrite returns ErrForbidden unless callerID administers tenantID.
func (e *Enforcer) AuthorizeGrantWrite(ctx context.Context, callerID, tenantID string) error {
	ok, err := e.checker.IsTenantAdmin(ctx, callerID, tenantID)
	if err != nil {
		e.unknown(ctx, "write_grant", callerID, tenantID, err)
		ok = false
	}
	if !ok {
		e.denied(ctx, callerID, tenantID, audit.ResourceGrant)
		return ErrForbidden
	}
	return nil
}

func (e *Enforcer) unknown(ctx context.Context, op, callerID, tenantID string, err error) {
	slog.WarnContext(ctx, "authorization undecidable, denying",
		logger.Component("authz"),
		logger.Operation(op),
		logger.UserID(callerID),
		logger.TenantID(tenantID),
		logger.Error(err),
	)
}

func (e *Enforcer) denied(ctx context.Context, callerID, tenantID, resource string) {
	e.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAccessDenied,
		TenantID: tenantID,
		ActorID:  callerID,
		Resource: resource,
	})
}
