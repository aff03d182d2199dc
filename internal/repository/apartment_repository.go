package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// ApartmentRepo persists apartments and their occupants.
type ApartmentRepo struct{ DB *sql.DB }

func NewApartmentRepo(db *sql.DB) *ApartmentRepo { return &ApartmentRepo{DB: db} }

func (r *ApartmentRepo) GetApartment(ctx context.Context, id uint64) (model.Apartment, error) {
	var a model.Apartment
	err := r.DB.QueryRowContext(ctx, "SELECT id, project_id, label FROM apartments WHERE id=?", id).
		Scan(&a.ID, &a.ProjectID, &a.Label)
	return a, notFound(err)
}

func (r *ApartmentRepo) ListOccupants(ctx context.Context, apartmentID uint64) ([]model.ApartmentUser, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, apartment_id, user_id, role, created_at
		   FROM apartment_users WHERE apartment_id=? ORDER BY id`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ApartmentUser
	for rows.Next() {
		var o model.ApartmentUser
		if err := rows.Scan(&o.ID, &o.ApartmentID, &o.UserID, &o.Role, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AddOccupant counts and inserts under a lock on the apartment row so
// concurrent adds serialize and the apartment never exceeds two occupants.
// ErrConflict when full, ErrDuplicate when the user already lives there,
// ErrNotFound when the apartment is gone.
func (r *ApartmentRepo) AddOccupant(ctx context.Context, apartmentID, userID uint64) (model.ApartmentUser, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.ApartmentUser{}, err
	}
	defer tx.Rollback()

	var locked uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM apartments WHERE id=? FOR UPDATE", apartmentID).Scan(&locked); err != nil {
		return model.ApartmentUser{}, notFound(err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT user_id, role FROM apartment_users WHERE apartment_id=?", apartmentID)
	if err != nil {
		return model.ApartmentUser{}, err
	}
	var taken []string
	for rows.Next() {
		var (
			uid  uint64
			role string
		)
		if err := rows.Scan(&uid, &role); err != nil {
			rows.Close()
			return model.ApartmentUser{}, err
		}
		if uid == userID {
			rows.Close()
			return model.ApartmentUser{}, ErrDuplicate
		}
		taken = append(taken, role)
	}
	if err := rows.Close(); err != nil {
		return model.ApartmentUser{}, err
	}

	role, ok := model.OccupantRole(taken)
	if !ok {
		return model.ApartmentUser{}, ErrConflict
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO apartment_users (apartment_id, user_id, role, created_at) VALUES (?,?,?,?)",
		apartmentID, userID, role, now)
	if isDuplicate(err) {
		return model.ApartmentUser{}, ErrDuplicate
	}
	if err != nil {
		return model.ApartmentUser{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.ApartmentUser{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ApartmentUser{}, err
	}
	return model.ApartmentUser{ID: uint64(id), ApartmentID: apartmentID, UserID: userID, Role: role, CreatedAt: now}, nil
}

// RemoveOccupant deletes the occupant row and reports whether it existed.
func (r *ApartmentRepo) RemoveOccupant(ctx context.Context, apartmentID, userID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM apartment_users WHERE apartment_id=? AND user_id=?", apartmentID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
