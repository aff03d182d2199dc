package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/renewal-portal/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,password_hash,global_role,disabled,created_at"

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u          model.User
		globalRole sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &globalRole, &u.Disabled, &u.CreatedAt)
	u.GlobalRole = globalRole.String
	return u, notFound(err)
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// LoadPrincipal returns the user with every membership, ordered by
// membership id so the first one is stable.
func (r *UserRepo) LoadPrincipal(ctx context.Context, userID uint64) (model.Principal, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return model.Principal{}, err
	}
	memberships, err := listMemberships(ctx, r.DB, "pm.user_id=?", userID)
	if err != nil {
		return model.Principal{}, err
	}
	return model.Principal{
		ID:          u.ID,
		Email:       u.Email,
		GlobalRole:  u.GlobalRole,
		Disabled:    u.Disabled,
		Memberships: memberships,
	}, nil
}
