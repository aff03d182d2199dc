package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// DocumentRepo persists documents and document_assignments.
type DocumentRepo struct{ DB *sql.DB }

func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{DB: db} }

func (r *DocumentRepo) CreateDocument(ctx context.Context, d *model.Document) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO documents (project_id, title, storage_key, content_type, created_by, created_at)
		 VALUES (?,?,?,?,?,?)`,
		d.ProjectID, d.Title, d.StorageKey, d.ContentType, d.CreatedBy, d.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = uint64(id)
	return nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, id uint64) (model.Document, error) {
	var d model.Document
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, project_id, title, storage_key, content_type, created_by, created_at
		   FROM documents WHERE id=?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Title, &d.StorageKey, &d.ContentType, &d.CreatedBy, &d.CreatedAt)
	return d, notFound(err)
}

// CreateAssignment inserts a PENDING assignment.  The unique key on
// (document_id, resident_user_id) turns a repeat into ErrDuplicate.
func (r *DocumentRepo) CreateAssignment(ctx context.Context, a *model.DocumentAssignment) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO document_assignments (document_id, resident_user_id, status, created_at)
		 VALUES (?,?,?,?)`,
		a.DocumentID, a.ResidentUserID, model.AssignmentPending, a.CreatedAt)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.Status = model.AssignmentPending
	return nil
}

func (r *DocumentRepo) GetAssignment(ctx context.Context, id uint64) (model.DocumentAssignment, error) {
	var (
		a        model.DocumentAssignment
		signedAt sql.NullTime
		meta     []byte
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, document_id, resident_user_id, status, signed_at, signature_meta, created_at
		   FROM document_assignments WHERE id=?`, id).
		Scan(&a.ID, &a.DocumentID, &a.ResidentUserID, &a.Status, &signedAt, &meta, &a.CreatedAt)
	if err != nil {
		return a, notFound(err)
	}
	if signedAt.Valid {
		t := signedAt.Time
		a.SignedAt = &t
	}
	if len(meta) > 0 {
		a.SignatureMeta = meta
	}
	return a, nil
}

// MarkSigned flips a PENDING assignment to SIGNED.  It returns false when
// the row was already signed, so exactly one concurrent caller wins.
func (r *DocumentRepo) MarkSigned(ctx context.Context, id uint64, signedAt time.Time, meta json.RawMessage) (bool, error) {
	var m any
	if len(meta) > 0 {
		m = []byte(meta)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE document_assignments
		    SET status=?, signed_at=?, signature_meta=?
		  WHERE id=? AND status=?`,
		model.AssignmentSigned, signedAt, m, id, model.AssignmentPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
