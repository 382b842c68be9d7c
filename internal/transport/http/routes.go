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
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/tenant"
	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

// ErrInvalidRouteTable is returned when the route table cannot be loaded.
var ErrInvalidRouteTable = errors.New("invalid route table")

// Route kinds decide how a denial is answered.
const (
	KindPage = "page"
	KindAPI  = "api"
)

// RoleNone admits any authenticated, active user.
const RoleNone = "none"

// RouteRule is one entry of the route table.
type RouteRule struct {
	Path      string `yaml:"path"`
	Kind      string `yaml:"kind"`
	Public    bool   `yaml:"public"`
	Role      string `yaml:"role"`
	WriteRole string `yaml:"write_role"`
}

// TenantScoped reports whether the rule's path carries a {tenant} segment.
func (r RouteRule) TenantScoped() bool {
	return strings.Contains(r.Path, "{tenant}")
}

// RequiredRole returns the role needed for method.
func (r RouteRule) RequiredRole(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return r.Role
	}
	if r.WriteRole != "" {
		return r.WriteRole
	}
	return r.Role
}

type routeFile struct {
	Routes []RouteRule `yaml:"routes"`
}

// RouteTable matches request paths against declared rules using chi's
// radix tree, so patterns mean exactly what they mean to the router.
type RouteTable struct {
	mux   *chi.Mux
	rules map[string]RouteRule
}

// DefaultRouteTable loads the embedded routes.yaml.
func DefaultRouteTable() (*RouteTable, error) {
	return LoadRouteTable(defaultRoutes)
}

// LoadRouteTable parses and validates a YAML route table.
func LoadRouteTable(data []byte) (rt *RouteTable, err error) {
	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRouteTable, err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes", ErrInvalidRouteTable)
	}

	// chi panics on malformed patterns.
	defer func() {
		if rec := recover(); rec != nil {
			rt, err = nil, fmt.Errorf("%w: %v", ErrInvalidRouteTable, rec)
		}
	}()

	rt = &RouteTable{mux: chi.NewMux(), rules: make(map[string]RouteRule, len(file.Routes))}
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	for _, rule := range file.Routes {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		if _, dup := rt.rules[rule.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalidRouteTable, rule.Path)
		}
		rt.rules[rule.Path] = rule
		rt.mux.Handle(rule.Path, noop)
	}
	return rt, nil
}

func (r RouteRule) validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidRouteTable, r.Path)
	}
	if r.Kind != KindPage && r.Kind != KindAPI {
		return fmt.Errorf("%w: %s: kind must be page or api, got %q", ErrInvalidRouteTable, r.Path, r.Kind)
	}
	if r.Public {
		if r.Role != "" || r.WriteRole != "" {
			return fmt.Errorf("%w: %s: public routes take no role", ErrInvalidRouteTable, r.Path)
		}
		return nil
	}
	if !validRouteRole(r.Role) {
		return fmt.Errorf("%w: %s: unknown role %q", ErrInvalidRouteTable, r.Path, r.Role)
	}
	if r.WriteRole != "" && !validRouteRole(r.WriteRole) {
		return fmt.Errorf("%w: %s: unknown write_role %q", ErrInvalidRouteTable, r.Path, r.WriteRole)
	}
	return nil
}

func validRouteRole(role string) bool {
	if role == RoleNone {
		return true
	}
	return identity.Role(role).Valid() || tenant.Role(role).Valid()
}

// Match finds the rule for path. The returned context carries URL params.
func (t *RouteTable) Match(method, path string) (RouteRule, *chi.Context, bool) {
	rctx := chi.NewRouteContext()
	if !t.mux.Match(rctx, method, path) || len(rctx.RoutePatterns) == 0 {
		return RouteRule{}, nil, false
	}
	rule, ok := t.rules[rctx.RoutePatterns[len(rctx.RoutePatterns)-1]]
	return rule, rctx, ok
}

// Rules returns every rule in the table.
func (t *RouteTable) Rules() []RouteRule {
	out := make([]RouteRule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	return out
}
