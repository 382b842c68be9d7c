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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/citygate/internal/tenant"
)

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	Slug   string `json:"slug" example:"rotterdam"`
	Name   string `json:"name" example:"Gemeente Rotterdam"`
	Status string `json:"status,omitempty" example:"active"`
}

// ListTenants returns every tenant for a superuser, otherwise the tenants
// the caller holds a grant in.
// @Summary List Tenants
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Success 200 {array} tenant.Tenant
// @Router /tenants [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	if user.IsSuperuser() {
		tenants, err := h.tenantService.ListTenants(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list tenants", err)
			return
		}
		respondJSON(w, http.StatusOK, tenants)
		return
	}

	grants, err := h.grantService.ListForUser(r.Context(), user.ID, user.ID)
	if err != nil {
		h.internalError(w, r, "failed to list grants", err)
		return
	}
	tenants := make([]*tenant.Tenant, 0, len(grants))
	for _, g := range grants {
		t, err := h.tenantService.GetTenant(r.Context(), g.TenantID)
		if err != nil {
			continue
		}
		tenants = append(tenants, t)
	}
	respondJSON(w, http.StatusOK, tenants)
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Tags Tenant
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body CreateTenantRequest true "Tenant Data"
// @Success 201 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	var req CreateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status := tenant.StatusActive
	if req.Status != "" {
		s, err := tenant.ParseStatus(req.Status)
		if err != nil {
			h.respondDomainError(w, r, err)
			return
		}
		status = s
	}

	t, err := h.tenantService.CreateTenant(r.Context(), GetUserID(r.Context()), req.Slug, req.Name, status)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// GetTenant returns the tenant resolved by the gatekeeper
// @Summary Get Tenant
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Success 200 {object} tenant.Tenant
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenant} [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// SetTenantStatusRequest changes the lifecycle status of a tenant
type SetTenantStatusRequest struct {
	Status string `json:"status" example:"archived"`
}

// SetTenantStatus changes a tenant's status
// @Summary Set Tenant Status
// @Tags Tenant
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param request body SetTenantStatusRequest true "Status"
// @Success 200 {object} tenant.Tenant
// @Router /tenants/{tenant}/status [put]
func (h *Handler) SetTenantStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	var req SetTenantStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := tenant.ParseStatus(req.Status)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	updated, err := h.tenantService.SetStatus(r.Context(), GetUserID(r.Context()), t.ID, status)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// GrantRequest assigns a tenant role to a user
type GrantRequest struct {
	UserID string `json:"user_id,omitempty" example:"0190c1d2-..."`
	Role   string `json:"role" example:"operator"`
}

// ListGrants returns the grants of a tenant visible to the caller
// @Summary List Grants
// @Tags Grant
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Success 200 {array} tenant.Grant
// @Router /tenants/{tenant}/grants [get]
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	grants, err := h.grantService.List(r.Context(), GetUserID(r.Context()), t.ID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, grants)
}

// CreateGrant gives a user a role in the tenant
// @Summary Create Grant
// @Tags Grant
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param request body GrantRequest true "Grant"
// @Success 201 {object} tenant.Grant
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/{tenant}/grants [post]
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := tenant.ParseRole(req.Role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	g, err := h.grantService.Grant(r.Context(), GetUserID(r.Context()), t.ID, req.UserID, role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

// PutGrant sets the role of a user in the tenant, creating the grant if needed
// @Summary Set Grant
// @Tags Grant
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param userID path string true "User ID"
// @Param request body GrantRequest true "Grant"
// @Success 200 {object} tenant.Grant
// @Router /tenants/{tenant}/grants/{userID} [put]
func (h *Handler) PutGrant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := tenant.ParseRole(req.Role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	g, err := h.grantService.Upsert(r.Context(), GetUserID(r.Context()), t.ID, chi.URLParam(r, "userID"), role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// DeleteGrant revokes a user's grant in the tenant
// @Summary Revoke Grant
// @Tags Grant
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param userID path string true "User ID"
// @Success 204
// @Router /tenants/{tenant}/grants/{userID} [delete]
func (h *Handler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.grantService.Revoke(r.Context(), GetUserID(r.Context()), t.ID, chi.URLParam(r, "userID")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tenantFromRequest(w http.ResponseWriter, r *http.Request) (*tenant.Tenant, bool) {
	if t := GetTenant(r.Context()); t != nil {
		return t, true
	}
	t, err := h.tenantService.GetBySlug(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return nil, false
	}
	if !h.enforcer.CanRead(r.Context(), GetUserID(r.Context()), t.ID) {
		respondError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return t, true
}

func (h *Handler) requireSuperuser(w http.ResponseWriter, r *http.Request) bool {
	ok, err := h.enforcer.Checker().IsSuperuser(r.Context(), GetUserID(r.Context()))
	if err != nil || !ok {
		respondError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
