package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
)

// ScopeConfig selects how a request is bound to a project.
type ScopeConfig struct {
	// SingleProjectMode ignores any explicit project and uses the caller's
	// first membership.
	SingleProjectMode bool
}

// ScopeResolver decides which single project a request applies to.
type ScopeResolver struct {
	cfg      ScopeConfig
	members  MemberStore
	projects ProjectStore
	logger   *zap.Logger
}

func NewScopeResolver(cfg ScopeConfig, members MemberStore, projects ProjectStore, logger *zap.Logger) *ScopeResolver {
	return &ScopeResolver{cfg: cfg, members: members, projects: projects, logger: logger}
}

// ProjectContext is the resolved project plus the role the principal holds
// in it.
type ProjectContext struct {
	Project    model.Project    `json:"project"`
	Role       string           `json:"role"`
	Membership model.Membership `json:"membership"`
}

// ResolveProjectID returns the project the request is scoped to.
//
// In single-project mode the explicit project is ignored and the first
// membership (lowest membership ID) wins.  A principal with several
// memberships is logged as an anomaly but still resolves to that first
// membership.
//
// In multi-project mode explicit is required and the principal must be a
// member of it.
func (s *ScopeResolver) ResolveProjectID(p *model.Principal, explicit *uint64) (uint64, error) {
	if p == nil {
		return 0, unauthenticated("authentication required")
	}
	if s.cfg.SingleProjectMode {
		m, err := s.firstMembership(p.ID, p.Memberships)
		if err != nil {
			return 0, err
		}
		return m.ProjectID, nil
	}

	if explicit == nil || *explicit == 0 {
		return 0, forbidden("project id required")
	}
	if _, ok := p.MembershipFor(*explicit); !ok {
		return 0, forbidden("not a member of project %d", *explicit)
	}
	return *explicit, nil
}

// GetPrincipalProject returns the project the principal resolves to in
// single-project fashion, with its role, for display.
func (s *ScopeResolver) GetPrincipalProject(ctx context.Context, principalID uint64) (ProjectContext, error) {
	memberships, err := s.members.ListMemberships(ctx, principalID)
	if err != nil {
		return ProjectContext{}, fmt.Errorf("list memberships: %w", err)
	}
	m, err := s.firstMembership(principalID, memberships)
	if err != nil {
		return ProjectContext{}, err
	}
	project, err := s.projects.GetProject(ctx, m.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ProjectContext{}, notFound("project %d", m.ProjectID)
		}
		return ProjectContext{}, fmt.Errorf("get project: %w", err)
	}
	return ProjectContext{Project: project, Role: m.RoleName, Membership: m}, nil
}

func (s *ScopeResolver) firstMembership(principalID uint64, memberships []model.Membership) (model.Membership, error) {
	if len(memberships) == 0 {
		return model.Membership{}, forbidden("no project membership")
	}
	first := memberships[0]
	for _, m := range memberships[1:] {
		if m.ID < first.ID {
			first = m
		}
	}
	if len(memberships) > 1 && s.cfg.SingleProjectMode {
		s.logger.Warn("principal has multiple memberships in single project mode, using first",
			zap.Uint64("principal_id", principalID),
			zap.Int("memberships", len(memberships)),
			zap.Uint64("project_id", first.ProjectID),
		)
	}
	return first, nil
}
