package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// MessageRepo persists messages.  sent_at is written at most once.
type MessageRepo struct{ DB *sql.DB }

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{DB: db} }

const messageColumns = "id, project_id, title, body, audience, scheduled_at, sent_at, created_by, created_at"

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var (
		m                   model.Message
		audience            string
		scheduledAt, sentAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Body, &audience, &scheduledAt, &sentAt, &m.CreatedBy, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Audience = model.Audience(audience)
	m.ScheduledAt = timePtr(scheduledAt)
	m.SentAt = timePtr(sentAt)
	return m, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (r *MessageRepo) CreateMessage(ctx context.Context, m *model.Message) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO messages (project_id, title, body, audience, scheduled_at, sent_at, created_by, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		m.ProjectID, m.Title, m.Body, string(m.Audience), nullableTime(m.ScheduledAt), nullableTime(m.SentAt), m.CreatedBy, m.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

func (r *MessageRepo) GetMessage(ctx context.Context, id uint64) (model.Message, error) {
	m, err := scanMessage(r.DB.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id=?", id))
	return m, notFound(err)
}

// MarkSent stamps sent_at if it is still NULL and reports whether this call
// did it.
func (r *MessageRepo) MarkSent(ctx context.Context, id uint64, sentAt time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "UPDATE messages SET sent_at=? WHERE id=? AND sent_at IS NULL", sentAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListUnsentScheduled returns every scheduled message not yet sent.
func (r *MessageRepo) ListUnsentScheduled(ctx context.Context) ([]model.Message, error) {
	return r.list(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE sent_at IS NULL AND scheduled_at IS NOT NULL ORDER BY scheduled_at, id")
}

// ListOverdue returns unsent messages whose scheduled time is not after now.
func (r *MessageRepo) ListOverdue(ctx context.Context, now time.Time) ([]model.Message, error) {
	return r.list(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE sent_at IS NULL AND scheduled_at <= ? ORDER BY scheduled_at, id", now)
}

func (r *MessageRepo) list(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
