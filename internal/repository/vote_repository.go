package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// VoteRepo persists votes, their options and ballots.
type VoteRepo struct{ DB *sql.DB }

func NewVoteRepo(db *sql.DB) *VoteRepo { return &VoteRepo{DB: db} }

// CreateVote inserts the vote and its options in one transaction and fills
// in the generated ids.
func (r *VoteRepo) CreateVote(ctx context.Context, v *model.Vote) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO votes (project_id, title, status, audience, opens_at, closes_at, created_by, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		v.ProjectID, v.Title, v.Status, string(v.Audience), v.OpensAt, v.ClosesAt, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	voteID := uint64(id)
	for i := range v.Options {
		res, err := tx.ExecContext(ctx, "INSERT INTO vote_options (vote_id, label) VALUES (?,?)", voteID, v.Options[i].Label)
		if err != nil {
			return err
		}
		oid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		v.Options[i].ID = uint64(oid)
		v.Options[i].VoteID = voteID
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	v.ID = voteID
	return nil
}

// GetVote loads the vote with its options.
func (r *VoteRepo) GetVote(ctx context.Context, id uint64) (model.Vote, error) {
	var (
		v        model.Vote
		audience string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, project_id, title, status, audience, opens_at, closes_at, created_by, created_at
		   FROM votes WHERE id=?`, id).
		Scan(&v.ID, &v.ProjectID, &v.Title, &v.Status, &audience, &v.OpensAt, &v.ClosesAt, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return v, notFound(err)
	}
	v.Audience = model.Audience(audience)

	rows, err := r.DB.QueryContext(ctx, "SELECT id, vote_id, label FROM vote_options WHERE vote_id=? ORDER BY id", id)
	if err != nil {
		return v, err
	}
	defer rows.Close()
	for rows.Next() {
		var o model.VoteOption
		if err := rows.Scan(&o.ID, &o.VoteID, &o.Label); err != nil {
			return v, err
		}
		v.Options = append(v.Options, o)
	}
	return v, rows.Err()
}

// TransitionVote moves the vote from one status to another and reports
// whether this call did it.
func (r *VoteRepo) TransitionVote(ctx context.Context, id uint64, from, to string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "UPDATE votes SET status=? WHERE id=? AND status=?", to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *VoteRepo) GetBallot(ctx context.Context, voteID, userID uint64) (model.VoteBallot, error) {
	var b model.VoteBallot
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, vote_id, user_id, option_id, created_at FROM vote_ballots WHERE vote_id=? AND user_id=?",
		voteID, userID).Scan(&b.ID, &b.VoteID, &b.UserID, &b.OptionID, &b.CreatedAt)
	return b, notFound(err)
}

// CreateBallot inserts the ballot; the unique (vote_id, user_id) key turns
// a second ballot into ErrDuplicate.
func (r *VoteRepo) CreateBallot(ctx context.Context, b *model.VoteBallot) error {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO vote_ballots (vote_id, user_id, option_id, created_at) VALUES (?,?,?,?)",
		b.VoteID, b.UserID, b.OptionID, b.CreatedAt)
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
	b.ID = uint64(id)
	return nil
}

// BallotUserIDs lists who voted, never what they chose.
func (r *VoteRepo) BallotUserIDs(ctx context.Context, voteID uint64) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT user_id FROM vote_ballots WHERE vote_id=? ORDER BY id", voteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
