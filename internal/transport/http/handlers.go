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

// @title citygate API
// @version 1.0.0
// @description Multi-tenant authorization engine for the city administration backend

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name citygate_session

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/observability/logger"
	"github.com/opentrusty/citygate/internal/resource"
	"github.com/opentrusty/citygate/internal/session"
	"github.com/opentrusty/citygate/internal/tenant"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	authenticator   *session.Authenticator
	tenantService   *tenant.Service
	grantService    *authz.GrantService
	resourceService *resource.Service
	enforcer        *authz.Enforcer
	auditLogger     audit.Logger
	sessionConfig   SessionConfig
	loginPath       string
}

// HandlerDeps lists the services a Handler is built from.
type HandlerDeps struct {
	Identity      *identity.Service
	Authenticator *session.Authenticator
	Tenants       *tenant.Service
	Grants        *authz.GrantService
	Resources     *resource.Service
	Enforcer      *authz.Enforcer
	AuditLogger   audit.Logger
	Session       SessionConfig
	LoginPath     string
}

// NewHandler creates a new HTTP handler
func NewHandler(d HandlerDeps) *Handler {
	if d.AuditLogger == nil {
		d.AuditLogger = audit.NopLogger{}
	}
	if d.LoginPath == "" {
		d.LoginPath = "/login"
	}
	return &Handler{
		identityService: d.Identity,
		authenticator:   d.Authenticator,
		tenantService:   d.Tenants,
		grantService:    d.Grants,
		resourceService: d.Resources,
		enforcer:        d.Enforcer,
		auditLogger:     d.AuditLogger,
		sessionConfig:   d.Session,
		loginPath:       d.LoginPath,
	}
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "citygate",
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" example:"user@example.com"`
	Password string `json:"password" example:"secret123"`
	ReturnTo string `json:"return_to,omitempty" example:"/admin"`
}

// LoginResponse is returned to API clients after a successful login
type LoginResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates a user and issues a session credential. HTML form
// posts are redirected to returnTo; JSON clients get the credential back.
// @Summary Login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	form := isFormPost(r)

	var req LoginRequest
	if form {
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		req.ReturnTo = r.PostFormValue("returnTo")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if form {
			http.Redirect(w, r, loginURL(h.loginPath, safeReturnTo(req.ReturnTo, "/admin"))+"&failed=1", http.StatusSeeOther)
			return
		}
		if errors.Is(err, identity.ErrAccountLocked) {
			respondError(w, http.StatusTooManyRequests, "account temporarily locked")
			return
		}
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	cred, err := h.authenticator.Issue(r.Context(), user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue session credential",
			logger.UserID(user.ID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionConfig.setCookie(w, cred)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   user.ID,
		Resource:  audit.ResourceSession,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	if form {
		http.Redirect(w, r, safeReturnTo(req.ReturnTo, "/admin"), http.StatusSeeOther)
		return
	}
	respondJSON(w, http.StatusOK, LoginResponse{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		Token:     cred.Token,
		ExpiresAt: cred.ExpiresAt,
	})
}

// Logout revokes every credential of the caller and clears the cookie
// @Summary Logout
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	if err := h.authenticator.RevokeAll(r.Context(), userID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke sessions",
			logger.UserID(userID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	h.sessionConfig.clearCookie(w)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLogout,
		ActorID:   userID,
		Resource:  audit.ResourceSession,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	if isFormPost(r) {
		http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// SessionResponse answers the guard's session check
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id"`
	Role          string     `json:"role"`
	Rotated       bool       `json:"rotated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Session reports whether the presented credential is valid. A rotated
// credential has already been set on the response by the gatekeeper.
// @Summary Session check
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} SessionResponse
// @Failure 401 {object} map[string]string
// @Router /auth/session [get]
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	resp := SessionResponse{
		Authenticated: true,
		UserID:        user.ID,
		Role:          string(user.Role),
	}
	if cred, ok := CredentialFromContext(r.Context()); ok {
		resp.Rotated = true
		resp.ExpiresAt = &cred.ExpiresAt
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, resp)
}

// MeResponse describes the caller
type MeResponse struct {
	UserID  string           `json:"user_id"`
	Email   string           `json:"email"`
	Role    string           `json:"role"`
	Profile identity.Profile `json:"profile"`
	Grants  []*tenant.Grant  `json:"grants"`
}

// GetCurrentUser returns the caller and the grants they can see of their own
// @Summary Get Current User
// @Tags User
// @Produce json
// @Security CookieAuth
// @Success 200 {object} MeResponse
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	grants, err := h.grantService.ListForUser(r.Context(), user.ID, user.ID)
	if err != nil {
		h.internalError(w, r, "failed to list grants", err)
		return
	}
	respondJSON(w, http.StatusOK, MeResponse{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    string(user.Role),
		Profile: user.Profile,
		Grants:  grants,
	})
}

// respondDomainError maps service errors onto the JSON error contract.
// Store errors never reach the client.
func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, resource.ErrNotFound),
		errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrGrantNotFound),
		errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, authz.ErrUnknownResourceClass):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, resource.ErrParentNotFound):
		respondError(w, http.StatusUnprocessableEntity, "parent not found")
	case errors.Is(err, tenant.ErrDuplicateGrant),
		errors.Is(err, tenant.ErrDuplicateTenant),
		errors.Is(err, identity.ErrDuplicateIdentity):
		respondError(w, http.StatusConflict, conflictMessage(err))
	case errors.Is(err, resource.ErrInvalidInput),
		errors.Is(err, tenant.ErrInvalidRole),
		errors.Is(err, tenant.ErrInvalidSlug),
		errors.Is(err, tenant.ErrInvalidStatus),
		errors.Is(err, identity.ErrInvalidRole),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.internalError(w, r, "request failed", err)
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, tenant.ErrDuplicateGrant):
		return tenant.ErrDuplicateGrant.Error()
	case errors.Is(err, tenant.ErrDuplicateTenant):
		return tenant.ErrDuplicateTenant.Error()
	}
	return identity.ErrDuplicateIdentity.Error()
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg,
		logger.Path(r.URL.Path),
		logger.UserID(GetUserID(r.Context())),
		logger.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func isFormPost(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
