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
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/observability/logger"
)

// CreateUserRequest represents user provisioning data
type CreateUserRequest struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email" example:"user@example.com"`
	Password    string `json:"password,omitempty" example:"correct-horse-battery"`
	Role        string `json:"role" example:"operator"`
	DisplayName string `json:"display_name,omitempty" example:"Jan de Vries"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID      string           `json:"id"`
	Email   string           `json:"email"`
	Role    string           `json:"role"`
	Active  bool             `json:"active"`
	Profile identity.Profile `json:"profile"`
}

func userResponse(u *identity.User) UserResponse {
	return UserResponse{
		ID:      u.ID,
		Email:   u.Email,
		Role:    string(u.Role),
		Active:  u.Active,
		Profile: u.Profile,
	}
}

// ListUsers returns every user
// @Summary List Users
// @Tags User
// @Produce json
// @Security CookieAuth
// @Success 200 {array} UserResponse
// @Router /users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	users, err := h.identityService.ListUsers(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to list users", err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u))
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateUser provisions a user with a global role
// @Summary Create User
// @Tags User
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body CreateUserRequest true "User Data"
// @Success 201 {object} UserResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /users [post]
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	user, err := h.identityService.CreateUser(r.Context(), identity.NewUser{
		ID:      req.ID,
		Email:   req.Email,
		Role:    role,
		Profile: identity.Profile{DisplayName: req.DisplayName},
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	if req.Password != "" {
		if err := h.identityService.AddPassword(r.Context(), user.ID, req.Password); err != nil {
			slog.WarnContext(r.Context(), "user created without password",
				logger.UserID(user.ID),
				logger.Error(err),
			)
			h.respondDomainError(w, r, err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, userResponse(user))
}

// SetUserRoleRequest changes a user's global role
type SetUserRoleRequest struct {
	Role string `json:"role" example:"admin"`
}

// SetUserRole changes the global role of a user
// @Summary Set User Role
// @Tags User
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Param request body SetUserRoleRequest true "Role"
// @Success 200 {object} UserResponse
// @Router /users/{userID}/role [put]
func (h *Handler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	var req SetUserRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	user, err := h.identityService.SetRole(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "userID"), role)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, userResponse(user))
}

// DeactivateUser deactivates a user and revokes every credential they hold
// @Summary Deactivate User
// @Tags User
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Success 204
// @Router /users/{userID}/deactivate [post]
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuperuser(w, r) {
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.identityService.Deactivate(r.Context(), GetUserID(r.Context()), userID); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if err := h.authenticator.RevokeAll(r.Context(), userID); err != nil {
		h.internalError(w, r, "failed to revoke sessions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
