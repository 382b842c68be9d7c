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
	"fmt"
	"regexp"
)

// ResourceClass describes one tenant-owned table. A class either carries
// tenant_id itself (Parent empty) or points at a Parent class that does.
type ResourceClass struct {
	Name  string
	Table string

	// Parent names the class whose row holds tenant_id. Empty for direct classes.
	Parent string

	// OperatorWritable lets any tenant member write; otherwise writes need a tenant admin.
	OperatorWritable bool
}

// Direct reports whether rows of the class carry tenant_id themselves.
func (c ResourceClass) Direct() bool {
	return c.Parent == ""
}

// Registry is the closed set of resource classes the enforcement layer
// knows about.
type Registry struct {
	classes map[string]ResourceClass
	order   []string
}

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Tables owned by the raw stores. A resource class mapped onto one of these
// would let a table policy evaluate itself.
var reservedTables = map[string]bool{
	"users":             true,
	"user_credentials":  true,
	"tenants":           true,
	"tenant_grants":     true,
	"session_rotations": true,
}

// NewRegistry validates classes and builds a registry. Parents must be
// registered before their children.
func NewRegistry(classes ...ResourceClass) (*Registry, error) {
	r := &Registry{classes: make(map[string]ResourceClass, len(classes))}
	tables := make(map[string]string, len(classes))

	for _, c := range classes {
		if !identPattern.MatchString(c.Name) || !identPattern.MatchString(c.Table) {
			return nil, fmt.Errorf("%w: name %q table %q", ErrInvalidResourceClass, c.Name, c.Table)
		}
		if reservedTables[c.Table] {
			return nil, fmt.Errorf("%w: table %q belongs to a raw store", ErrInvalidResourceClass, c.Table)
		}
		if _, dup := r.classes[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate class %q", ErrInvalidResourceClass, c.Name)
		}
		if other, dup := tables[c.Table]; dup {
			return nil, fmt.Errorf("%w: table %q already used by %q", ErrInvalidResourceClass, c.Table, other)
		}
		if !c.Direct() {
			parent, ok := r.classes[c.Parent]
			if !ok {
				if c.Parent == c.Name {
					return nil, fmt.Errorf("%w: %q is its own parent", ErrIndirectionTooDeep, c.Name)
				}
				return nil, fmt.Errorf("%w: parent %q of %q", ErrUnknownResourceClass, c.Parent, c.Name)
			}
			if !parent.Direct() {
				return nil, fmt.Errorf("%w: %q -> %q -> %q", ErrIndirectionTooDeep, c.Name, parent.Name, parent.Parent)
			}
		}
		r.classes[c.Name] = c
		r.order = append(r.order, c.Name)
		tables[c.Table] = c.Name
	}
	return r, nil
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (ResourceClass, error) {
	c, ok := r.classes[name]
	if !ok {
		return ResourceClass{}, fmt.Errorf("%w: %q", ErrUnknownResourceClass, name)
	}
	return c, nil
}

// Classes returns every class in registration order.
func (r *Registry) Classes() []ResourceClass {
	out := make([]ResourceClass, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.classes[name])
	}
	return out
}

// Resource class names of the city content model.
const (
	ClassDistrict      = "district"
	ClassNeighborhood  = "neighborhood"
	ClassTaxonomyType  = "taxonomy_type"
	ClassTaxonomyValue = "taxonomy_value"
	ClassLanguage      = "language"
)

// DefaultClasses is the city content model. Languages change what every
// editor sees and stay admin-only.
func DefaultClasses() []ResourceClass {
	return []ResourceClass{
		{Name: ClassDistrict, Table: "districts", OperatorWritable: true},
		{Name: ClassNeighborhood, Table: "neighborhoods", Parent: ClassDistrict, OperatorWritable: true},
		{Name: ClassTaxonomyType, Table: "taxonomy_types", OperatorWritable: true},
		{Name: ClassTaxonomyValue, Table: "taxonomy_values", Parent: ClassTaxonomyType, OperatorWritable: true},
		{Name: ClassLanguage, Table: "languages"},
	}
}

// DefaultRegistry builds a registry of DefaultClasses.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultClasses()...)
	if err != nil {
		panic(err)
	}
	return r
}
