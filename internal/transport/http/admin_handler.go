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
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/locale"
	"github.com/opentrusty/citygate/internal/observability/logger"
	"github.com/opentrusty/citygate/internal/resource"
	"github.com/opentrusty/citygate/internal/tenant"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// pageText is the translated chrome of the admin pages.
type pageText struct {
	SignIn, LoginFailed, Email, Password, Logout string
	Tenants, Empty, Name, Updated                string
}

var translations = map[string]pageText{
	"en": {
		SignIn:      "Sign in",
		LoginFailed: "Email or password is incorrect.",
		Email:       "Email",
		Password:    "Password",
		Logout:      "Sign out",
		Tenants:     "Cities",
		Empty:       "Nothing here yet.",
		Name:        "Name",
		Updated:     "Updated",
	},
	"nl": {
		SignIn:      "Inloggen",
		LoginFailed: "E-mailadres of wachtwoord is onjuist.",
		Email:       "E-mailadres",
		Password:    "Wachtwoord",
		Logout:      "Uitloggen",
		Tenants:     "Gemeenten",
		Empty:       "Nog niets te zien.",
		Name:        "Naam",
		Updated:     "Bijgewerkt",
	},
}

type pageData struct {
	Lang     string
	Title    string
	Text     pageText
	User     *identity.User
	Failed   bool
	ReturnTo string
	Tenants  []*tenant.Tenant
	Tenant   *tenant.Tenant
	Classes  []authz.ResourceClass
	Class    string
	Records  []*resource.Record
}

func (h *Handler) page(r *http.Request, title string) pageData {
	lang := "en"
	if base, conf := locale.FromContext(r.Context()).Base(); conf != 0 {
		if _, ok := translations[base.String()]; ok {
			lang = base.String()
		}
	}
	return pageData{
		Lang:  lang,
		Title: title,
		Text:  translations[lang],
		User:  GetUser(r.Context()),
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "failed to render page",
			logger.Component("admin"),
			logger.String("template", name),
			logger.Error(err),
		)
	}
}

// LoginPage renders the sign-in form
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	data := h.page(r, "")
	data.Title = data.Text.SignIn
	data.Failed = r.URL.Query().Get("failed") != ""
	data.ReturnTo = safeReturnTo(r.URL.Query().Get("returnTo"), "/admin")
	h.render(w, r, "login", data)
}

// AdminHome lists the tenants the caller can open
func (h *Handler) AdminHome(w http.ResponseWriter, r *http.Request) {
	data := h.page(r, "")
	data.Title = data.Text.Tenants

	user := data.User
	if user.IsSuperuser() {
		tenants, err := h.tenantService.ListTenants(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list tenants", err)
			return
		}
		data.Tenants = tenants
	} else {
		grants, err := h.grantService.ListForUser(r.Context(), user.ID, user.ID)
		if err != nil {
			h.internalError(w, r, "failed to list grants", err)
			return
		}
		for _, g := range grants {
			if t, err := h.tenantService.GetTenant(r.Context(), g.TenantID); err == nil {
				data.Tenants = append(data.Tenants, t)
			}
		}
	}
	h.render(w, r, "tenants", data)
}

// AdminTenant shows the resource classes of one tenant
func (h *Handler) AdminTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	data := h.page(r, t.Name)
	data.Tenant = t
	data.Classes = h.resourceService.Classes()
	h.render(w, r, "tenant", data)
}

// AdminClass lists the rows of one class in a tenant
func (h *Handler) AdminClass(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantFromRequest(w, r)
	if !ok {
		return
	}
	class := chi.URLParam(r, "class")
	records, err := h.resourceService.List(r.Context(), GetUserID(r.Context()), class, t.ID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data := h.page(r, class)
	data.Tenant = t
	data.Class = class
	data.Records = records
	h.render(w, r, "class", data)
}
