package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// AuditRepo appends to and reads audit_events.  Rows are never updated.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

func (r *AuditRepo) Insert(ctx context.Context, ev *model.AuditEvent) error {
	var meta any
	if len(ev.Metadata) > 0 {
		meta = []byte(ev.Metadata)
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_events (actor_id, project_id, action, target_type, target_id, metadata, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		ev.ActorID, nullableID(ev.ProjectID), ev.Action, ev.TargetType, nullableID(ev.TargetID), meta, ev.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// List returns the newest events first, optionally for one project only.
func (r *AuditRepo) List(ctx context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error) {
	q := `SELECT id, actor_id, project_id, action, target_type, target_id, metadata, created_at FROM audit_events`
	args := []any{}
	if projectID != nil {
		q += " WHERE project_id=?"
		args = append(args, *projectID)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditEvent{}
	for rows.Next() {
		var (
			ev              model.AuditEvent
			project, target sql.NullInt64
			meta            []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ActorID, &project, &ev.Action, &ev.TargetType, &target, &meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ProjectID = idPtr(project)
		ev.TargetID = idPtr(target)
		if len(meta) > 0 {
			ev.Metadata = meta
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableID(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idPtr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}
