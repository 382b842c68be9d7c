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

package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opentrusty/citygate/internal/audit"
)

// BootstrapConfig names the first superuser (BOOTSTRAP_EMAIL, BOOTSTRAP_PASSWORD).
type BootstrapConfig struct {
	Email    string
	Password string
}

// BootstrapService manages the initial initialization of the system
type BootstrapService struct {
	identityService *Service
	auditLogger     audit.Logger
	cfg             BootstrapConfig
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, auditLogger audit.Logger, cfg BootstrapConfig) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		auditLogger:     auditLogger,
		cfg:             cfg,
	}
}

// Bootstrap creates the configured superuser when no active superuser exists.
// It returns false when there was nothing to do.
func (s *BootstrapService) Bootstrap(ctx context.Context) (bool, error) {
	if s.cfg.Email == "" {
		return false, nil
	}

	count, err := s.identityService.repo.CountByRole(ctx, RoleSuperuser)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing superuser: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	user, err := s.identityService.CreateUser(ctx, NewUser{Email: s.cfg.Email, Role: RoleSuperuser})
	if err != nil {
		return false, fmt.Errorf("failed to create bootstrap superuser: %w", err)
	}

	// An existing non-superuser with the bootstrap email gets promoted.
	if user.Role != RoleSuperuser || !user.Active {
		user.Role = RoleSuperuser
		user.Active = true
		user.DeactivatedAt = nil
		if err := s.identityService.repo.Update(ctx, user); err != nil {
			return false, fmt.Errorf("failed to promote bootstrap user: %w", err)
		}
	}

	if s.cfg.Password != "" {
		if err := s.identityService.AddPassword(ctx, user.ID, s.cfg.Password); err != nil {
			return false, fmt.Errorf("failed to set bootstrap password: %w", err)
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSuperuserCreated,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: audit.ResourceUser,
		Metadata: map[string]any{
			audit.AttrUserID: user.ID,
			audit.AttrEmail:  user.Email,
		},
	})

	slog.InfoContext(ctx, "bootstrapped initial superuser", slog.String("email", user.Email))
	return true, nil
}
