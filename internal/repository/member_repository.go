package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// MemberRepo reads and writes project_members.
type MemberRepo struct{ DB *sql.DB }

func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{DB: db} }

func listMemberships(ctx context.Context, db *sql.DB, where string, arg any) ([]model.Membership, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT pm.id, pm.user_id, pm.project_id, pm.role_id, r.name
		   FROM project_members pm
		   JOIN roles r ON r.id = pm.role_id
		  WHERE `+where+`
		  ORDER BY pm.id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.ProjectID, &m.RoleID, &m.RoleName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMemberships returns every membership userID holds.
func (r *MemberRepo) ListMemberships(ctx context.Context, userID uint64) ([]model.Membership, error) {
	return listMemberships(ctx, r.DB, "pm.user_id=?", userID)
}

// ListProjectMembers returns every membership of the project.
func (r *MemberRepo) ListProjectMembers(ctx context.Context, projectID uint64) ([]model.Membership, error) {
	return listMemberships(ctx, r.DB, "pm.project_id=?", projectID)
}

// AddMember inserts a membership.  ErrDuplicate when the user is already a
// member; ErrNotFound when the user, project or role does not exist.
func (r *MemberRepo) AddMember(ctx context.Context, projectID, userID, roleID uint64) (model.Membership, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO project_members (project_id, user_id, role_id) VALUES (?,?,?)",
		projectID, userID, roleID)
	switch {
	case isDuplicate(err):
		return model.Membership{}, ErrDuplicate
	case isMissingReference(err):
		return model.Membership{}, ErrNotFound
	case err != nil:
		return model.Membership{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Membership{}, err
	}
	m := model.Membership{ID: uint64(id), UserID: userID, ProjectID: projectID, RoleID: roleID}
	err = r.DB.QueryRowContext(ctx, "SELECT name FROM roles WHERE id=?", roleID).Scan(&m.RoleName)
	return m, notFound(err)
}

// RemoveMember deletes the membership and reports whether one existed.
func (r *MemberRepo) RemoveMember(ctx context.Context, projectID, userID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM project_members WHERE project_id=? AND user_id=?", projectID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
