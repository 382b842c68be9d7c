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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SessionPath is the API endpoint the HTTPChecker asks.
const SessionPath = "/api/v1/auth/session"

// HTTPChecker checks sessions against the citygate API.
type HTTPChecker struct {
	client   *http.Client
	endpoint string
}

// NewHTTPChecker creates a checker for the API at apiURL. A nil client
// uses one that does not follow redirects.
func NewHTTPChecker(apiURL string, client *http.Client) (*HTTPChecker, error) {
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", apiURL)
	}
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPChecker{
		client:   client,
		endpoint: strings.TrimRight(u.String(), "/") + SessionPath,
	}, nil
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id"`
}

// Check forwards the request's credentials to the session endpoint.
// A 401 is a negative verdict, not an error.
func (c *HTTPChecker) Check(ctx context.Context, r *http.Request) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}
	for _, h := range ForwardedHeaders {
		if v := r.Header.Values(h); len(v) > 0 {
			req.Header[h] = v
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}
	defer resp.Body.Close()

	st := Status{SetCookies: resp.Header.Values("Set-Cookie")}
	switch resp.StatusCode {
	case http.StatusOK:
		var body sessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Status{}, fmt.Errorf("%w: decode: %v", ErrCheckFailed, err)
		}
		st.Authenticated = body.Authenticated && body.UserID != ""
		st.UserID = body.UserID
		return st, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return st, nil
	default:
		return Status{}, fmt.Errorf("%w: status %d", ErrCheckFailed, resp.StatusCode)
	}
}
