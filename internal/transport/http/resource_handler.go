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
	"github.com/opentrusty/citygate/internal/resource"
)

// ListResources returns the rows of a class owned by the tenant. A caller
// without read access gets an empty list.
// @Summary List Resources
// @Tags Resource
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param class path string true "Resource class"
// @Success 200 {array} resource.Record
// @Router /tenants/{tenant}/resources/{class} [get]
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	records, err := h.resourceService.List(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "class"), t.ID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// GetResource returns one row
// @Summary Get Resource
// @Tags Resource
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param class path string true "Resource class"
// @Param id path string true "Resource ID"
// @Success 200 {object} resource.Record
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenant}/resources/{class}/{id} [get]
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.resourceService.Get(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "class"), t.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// CreateResource inserts a row
// @Summary Create Resource
// @Tags Resource
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param class path string true "Resource class"
// @Param request body resource.Input true "Resource"
// @Success 201 {object} resource.Record
// @Failure 403 {object} map[string]string
// @Router /tenants/{tenant}/resources/{class} [post]
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	var in resource.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := h.resourceService.Create(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "class"), t.ID, in)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// UpdateResource replaces the name and attributes of a row
// @Summary Update Resource
// @Tags Resource
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param class path string true "Resource class"
// @Param id path string true "Resource ID"
// @Param request body resource.Input true "Resource"
// @Success 200 {object} resource.Record
// @Router /tenants/{tenant}/resources/{class}/{id} [put]
func (h *Handler) UpdateResource(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	var in resource.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := h.resourceService.Update(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "class"), t.ID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// DeleteResource removes a row and, for a parent class, its children
// @Summary Delete Resource
// @Tags Resource
// @Security CookieAuth
// @Param tenant path string true "Tenant slug"
// @Param class path string true "Resource class"
// @Param id path string true "Resource ID"
// @Success 204
// @Router /tenants/{tenant}/resources/{class}/{id} [delete]
func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.resourceService.Delete(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "class"), t.ID, chi.URLParam(r, "id")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
