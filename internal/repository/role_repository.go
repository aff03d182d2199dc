package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// RoleRepo reads roles and the mutable role -> permission table.
type RoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{DB: db} }

// PermissionKeysForRoles returns the distinct keys granted to any of
// roleIDs.
func (r *RoleRepo) PermissionKeysForRoles(ctx context.Context, roleIDs []uint64) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roleIDs)), ",")
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT DISTINCT perm_key FROM role_permissions WHERE role_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *RoleRepo) GetRole(ctx context.Context, id uint64) (model.Role, error) {
	var role model.Role
	err := r.DB.QueryRowContext(ctx, "SELECT id, name FROM roles WHERE id=?", id).Scan(&role.ID, &role.Name)
	return role, notFound(err)
}

// GrantPermission adds key to the role.  ErrDuplicate when already granted,
// ErrNotFound when the key is not a known permission.
func (r *RoleRepo) GrantPermission(ctx context.Context, roleID uint64, key string) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO role_permissions (role_id, perm_key) VALUES (?,?)", roleID, key)
	switch {
	case isDuplicate(err):
		return ErrDuplicate
	case isMissingReference(err):
		return ErrNotFound
	}
	return err
}

// RevokePermission removes key from the role and reports whether it was
// granted.
func (r *RoleRepo) RevokePermission(ctx context.Context, roleID uint64, key string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM role_permissions WHERE role_id=? AND perm_key=?", roleID, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ProjectRepo reads projects.
type ProjectRepo struct{ DB *sql.DB }

func NewProjectRepo(db *sql.DB) *ProjectRepo { return &ProjectRepo{DB: db} }

func (r *ProjectRepo) GetProject(ctx context.Context, id uint64) (model.Project, error) {
	var p model.Project
	err := r.DB.QueryRowContext(ctx, "SELECT id, name FROM projects WHERE id=?", id).Scan(&p.ID, &p.Name)
	return p, notFound(err)
}
