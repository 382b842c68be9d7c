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

package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc func(ctx context.Context, r *http.Request) (Status, error)

func (f checkerFunc) Check(ctx context.Context, r *http.Request) (Status, error) {
	return f(ctx, r)
}

const protected = "protected district data"

func content() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(protected))
	})
}

func request(cookie string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/admin/rotterdam/districts", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "citygate_session", Value: cookie})
	}
	return req
}

func testConfig() Config {
	return Config{
		LoginPath:      "/login",
		CookieName:     "citygate_session",
		PendingTimeout: time.Second,
		CheckTimeout:   time.Second,
		MaxStaleness:   15 * time.Second,
	}
}

// TestPurpose: Validates that a request without any credential goes straight to login.
// Scope: Unit Test
// Security: Unauthenticated access to rendered content (CWE-306)
// Expected: 302 to /login with returnTo set to the original path; the checker is never called.
// Test Case ID: GRD-01
func TestGuard_NoCredential(t *testing.T) {
	var calls atomic.Int32
	g := New(checkerFunc(func(context.Context, *http.Request) (Status, error) {
		calls.Add(1)
		return Status{Authenticated: true, UserID: "u1"}, nil
	}), testConfig())

	rec := httptest.NewRecorder()
	g.Middleware(content()).ServeHTTP(rec, request(""))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?returnTo=%2Fadmin%2Frotterdam%2Fdistricts", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), protected)
	assert.Zero(t, calls.Load())
}

// TestPurpose: Validates that a successful check renders content and forwards a rotated cookie.
// Scope: Unit Test
// Security: Credential rotation propagation
// Expected: 200 with content and the Set-Cookie header returned by the API.
// Test Case ID: GRD-02
func TestGuard_SuccessForwardsCookie(t *testing.T) {
	g := New(checkerFunc(func(_ context.Context, r *http.Request) (Status, error) {
		c, err := r.Cookie("citygate_session")
		require.NoError(t, err)
		assert.Equal(t, "tok", c.Value)
		return Status{
			Authenticated: true,
			UserID:        "u1",
			SetCookies:    []string{"citygate_session=rotated; Path=/"},
		}, nil
	}), testConfig())

	rec := httptest.NewRecorder()
	g.Middleware(content()).ServeHTTP(rec, request("tok"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protected, rec.Body.String())
	assert.Equal(t, []string{"citygate_session=rotated; Path=/"}, rec.Header().Values("Set-Cookie"))
}

// TestPurpose: Validates that failed checks redirect to login and are never cached.
// Scope: Unit Test
// Security: Fail-closed authentication (CWE-636)
// Expected: Both a negative verdict and a checker error redirect; every request re-runs the check.
// Test Case ID: GRD-03
func TestGuard_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	g := New(checkerFunc(func(context.Context, *http.Request) (Status, error) {
		if calls.Add(1) == 1 {
			return Status{SetCookies: []string{"citygate_session=; Max-Age=0"}}, nil
		}
		return Status{}, ErrCheckFailed
	}), testConfig())
	h := g.Middleware(content())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("revoked"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "citygate_session=; Max-Age=0", rec.Header().Get("Set-Cookie"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("revoked"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), protected)
	assert.Equal(t, int32(2), calls.Load())
}

// TestPurpose: Validates the neutral loading state while a slow check is pending.
// Scope: Unit Test
// Security: No flash of protected content
// Expected: The loading page is served without content; once the check finishes its result is reused.
// Test Case ID: GRD-04
func TestGuard_PendingRendersLoading(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	cfg := testConfig()
	cfg.PendingTimeout = 10 * time.Millisecond
	g := New(checkerFunc(func(context.Context, *http.Request) (Status, error) {
		calls.Add(1)
		<-release
		return Status{Authenticated: true, UserID: "u1"}, nil
	}), cfg)
	h := g.Middleware(content())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("tok"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, loadingPage, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	close(release)
	require.Eventually(t, func() bool { return g.fresh(g.fingerprint(request("tok"))) }, time.Second, 5*time.Millisecond)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("tok"))
	assert.Equal(t, protected, rec.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

// TestPurpose: Validates that cached positive results expire after the staleness bound.
// Scope: Unit Test
// Security: Bounded revocation lag
// Expected: A second request within the bound skips the check; one past the bound re-runs it.
// Test Case ID: GRD-05
func TestGuard_StalenessBound(t *testing.T) {
	var calls atomic.Int32
	g := New(checkerFunc(func(context.Context, *http.Request) (Status, error) {
		calls.Add(1)
		return Status{Authenticated: true, UserID: "u1"}, nil
	}), testConfig())

	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	h := g.Middleware(content())

	h.ServeHTTP(httptest.NewRecorder(), request("tok"))
	advance(10 * time.Second)
	h.ServeHTTP(httptest.NewRecorder(), request("tok"))
	assert.Equal(t, int32(1), calls.Load())

	advance(6 * time.Second)
	h.ServeHTTP(httptest.NewRecorder(), request("tok"))
	assert.Equal(t, int32(2), calls.Load())

	h.ServeHTTP(httptest.NewRecorder(), request("other"))
	assert.Equal(t, int32(3), calls.Load())
}

// TestPurpose: Validates that the HTTP checker forwards credentials and interprets API answers.
// Scope: Unit Test
// Expected: 200 is authenticated with cookies forwarded, 401 is a negative verdict, 500 is ErrCheckFailed.
// Test Case ID: GRD-06
func TestHTTPChecker(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SessionPath, r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		switch status.Load() {
		case http.StatusOK:
			http.SetCookie(w, &http.Cookie{Name: "citygate_session", Value: "rotated"})
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"authenticated":true,"user_id":"u1"}`))
		case http.StatusUnauthorized:
			http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewHTTPChecker(srv.URL+"/", nil)
	require.NoError(t, err)

	in := httptest.NewRequest(http.MethodGet, "/admin", nil)
	in.Header.Set("Authorization", "Bearer abc")

	status.Store(http.StatusOK)
	st, err := c.Check(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, st.Authenticated)
	assert.Equal(t, "u1", st.UserID)
	require.Len(t, st.SetCookies, 1)
	assert.Contains(t, st.SetCookies[0], "citygate_session=rotated")

	status.Store(http.StatusUnauthorized)
	st, err = c.Check(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, st.Authenticated)

	status.Store(http.StatusInternalServerError)
	_, err = c.Check(context.Background(), in)
	assert.ErrorIs(t, err, ErrCheckFailed)

	_, err = NewHTTPChecker("not a url", nil)
	assert.Error(t, err)
}

// TestPurpose: Validates that a check still running after the handler returned never reads the original request.
// Scope: Unit Test
// Security: Data race on a recycled request (CWE-362)
// Expected: The checker gets its own copy of the forwarded headers; changes to the original request after the loading page do not reach it.
// Test Case ID: GRD-07
func TestGuard_CheckUsesDetachedRequest(t *testing.T) {
	release := make(chan struct{})
	seen := make(chan *http.Request, 1)
	cfg := testConfig()
	cfg.PendingTimeout = 10 * time.Millisecond
	g := New(checkerFunc(func(_ context.Context, r *http.Request) (Status, error) {
		<-release
		seen <- r
		return Status{}, nil
	}), cfg)

	req := request("tok")
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	g.Middleware(content()).ServeHTTP(rec, req)
	require.Equal(t, loadingPage, rec.Body.String())

	req.Header.Set("Cookie", "citygate_session=reused")
	req.Header.Del("Authorization")
	close(release)

	var got *http.Request
	select {
	case got = <-seen:
	case <-time.After(time.Second):
		t.Fatal("check never ran")
	}
	assert.NotSame(t, req, got)
	c, err := got.Cookie("citygate_session")
	require.NoError(t, err)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, "Bearer abc", got.Header.Get("Authorization"))
	assert.Equal(t, "/admin/rotterdam/districts", got.URL.Path)
}
