package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
)

// AdminService mutates project membership and the role -> permission
// table.  Changes take effect on the next authorization check.
type AdminService struct {
	members MemberStore
	roles   RoleStore
	logger  *zap.Logger
}

func NewAdminService(members MemberStore, roles RoleStore, logger *zap.Logger) *AdminService {
	return &AdminService{members: members, roles: roles, logger: logger}
}

// AddMember gives userID roleID in the project.  A user holds at most one
// membership per project.
func (s *AdminService) AddMember(ctx context.Context, projectID, userID, roleID uint64) (model.Membership, error) {
	if userID == 0 {
		return model.Membership{}, badRequest("user_id is required")
	}
	role, err := s.role(ctx, roleID)
	if err != nil {
		return model.Membership{}, err
	}
	if role.Name == model.RoleAdminRoot {
		return model.Membership{}, badRequest("admin_root is a global role")
	}
	m, err := s.members.AddMember(ctx, projectID, userID, roleID)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return model.Membership{}, conflict("user %d is already a member of project %d", userID, projectID)
	case errors.Is(err, repository.ErrNotFound):
		return model.Membership{}, badRequest("user %d does not exist", userID)
	case err != nil:
		return model.Membership{}, fmt.Errorf("add member: %w", err)
	}
	s.logger.Info("member added",
		zap.Uint64("project_id", projectID),
		zap.Uint64("user_id", userID),
		zap.String("role", role.Name),
	)
	return m, nil
}

// RemoveMember drops the user's membership in the project.
func (s *AdminService) RemoveMember(ctx context.Context, projectID, userID uint64) error {
	removed, err := s.members.RemoveMember(ctx, projectID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return notFound("user %d is not a member of project %d", userID, projectID)
	}
	return nil
}

// GrantPermission adds key to the role.  Granting a key the role already
// holds is a no-op.
func (s *AdminService) GrantPermission(ctx context.Context, roleID uint64, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return badRequest("permission key is required")
	}
	if _, err := s.role(ctx, roleID); err != nil {
		return err
	}
	err := s.roles.GrantPermission(ctx, roleID, key)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return badRequest("unknown permission %q", key)
	case err != nil:
		return fmt.Errorf("grant permission: %w", err)
	}
	s.logger.Info("permission granted", zap.Uint64("role_id", roleID), zap.String("key", key))
	return nil
}

// RevokePermission removes key from the role.
func (s *AdminService) RevokePermission(ctx context.Context, roleID uint64, key string) error {
	if _, err := s.role(ctx, roleID); err != nil {
		return err
	}
	removed, err := s.roles.RevokePermission(ctx, roleID, key)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	if !removed {
		return notFound("role %d does not hold %q", roleID, key)
	}
	s.logger.Info("permission revoked", zap.Uint64("role_id", roleID), zap.String("key", key))
	return nil
}

func (s *AdminService) role(ctx context.Context, roleID uint64) (model.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Role{}, notFound("role %d", roleID)
	}
	if err != nil {
		return model.Role{}, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}
