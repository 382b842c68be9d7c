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

package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	transportHTTP "github.com/opentrusty/citygate/internal/transport/http"
	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that each server mode mounts only its own surface.
// Scope: Unit Test
// Security: A render-only deployment must not expose the management API
// Expected: Route presence per mode matches the table.
// Test Case ID: RTR-01
func TestRouter_ModeSeparation(t *testing.T) {
	h := &transportHTTP.Handler{}

	tests := []struct {
		name        string
		mode        string
		method      string
		path        string
		expectFound bool
	}{
		{"api has login", transportHTTP.ModeAPI, http.MethodPost, "/api/v1/auth/login", true},
		{"api has resources", transportHTTP.ModeAPI, http.MethodGet, "/api/v1/tenants/utrecht/resources/district", true},
		{"api has no admin pages", transportHTTP.ModeAPI, http.MethodGet, "/admin", false},
		{"api has health", transportHTTP.ModeAPI, http.MethodGet, "/health", true},

		{"render has login page", transportHTTP.ModeRender, http.MethodGet, "/login", true},
		{"render has health", transportHTTP.ModeRender, http.MethodGet, "/health", true},

		{"all has login api", transportHTTP.ModeAll, http.MethodPost, "/api/v1/auth/login", true},
		{"all has admin pages", transportHTTP.ModeAll, http.MethodGet, "/admin/utrecht/district", true},
		{"all has grants", transportHTTP.ModeAll, http.MethodPut, "/api/v1/tenants/utrecht/grants/u1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := transportHTTP.NewRouter(h, transportHTTP.RouterOptions{Mode: tt.mode})
			found := r.Match(chi.NewRouteContext(), tt.method, tt.path)
			assert.Equal(t, tt.expectFound, found, "%s %s in %s mode", tt.method, tt.path, tt.mode)
		})
	}
}

// TestPurpose: Validates that render mode without a guard refuses to serve protected pages.
// Scope: Unit Test
// Security: Fail closed on missing guard wiring
// Expected: 503 for any page other than login and health.
// Test Case ID: RTR-02
func TestRouter_RenderWithoutGuard(t *testing.T) {
	r := transportHTTP.NewRouter(&transportHTTP.Handler{}, transportHTTP.RouterOptions{Mode: transportHTTP.ModeRender})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// The API is not mounted; the guarded catch-all answers instead.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
