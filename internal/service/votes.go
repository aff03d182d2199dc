package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
)

// VoteService runs vote lifecycles and ballot casting.  A user's first
// ballot wins; later attempts return it unchanged.
type VoteService struct {
	votes   VoteStore
	members MemberStore
	clock   Clock
	logger  *zap.Logger
}

func NewVoteService(votes VoteStore, members MemberStore, clock Clock, logger *zap.Logger) *VoteService {
	return &VoteService{votes: votes, members: members, clock: clock, logger: logger}
}

// CreateVoteInput describes a new DRAFT vote.
type CreateVoteInput struct {
	ProjectID uint64
	Title     string
	Audience  model.Audience
	OpensAt   time.Time
	ClosesAt  time.Time
	Options   []string
	CreatedBy uint64
}

// CreateVote stores a DRAFT vote with its options.
func (s *VoteService) CreateVote(ctx context.Context, in CreateVoteInput) (model.Vote, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Vote{}, badRequest("title is required")
	}
	if in.Audience == "" {
		in.Audience = model.AudienceAll
	}
	if !in.Audience.Valid() {
		return model.Vote{}, badRequest("unknown audience %q", in.Audience)
	}
	if !in.OpensAt.Before(in.ClosesAt) {
		return model.Vote{}, badRequest("opens_at must be before closes_at")
	}
	var opts []model.VoteOption
	for _, label := range in.Options {
		if label = strings.TrimSpace(label); label != "" {
			opts = append(opts, model.VoteOption{Label: label})
		}
	}
	if len(opts) < 2 {
		return model.Vote{}, badRequest("at least two options are required")
	}
	v := model.Vote{
		ProjectID: in.ProjectID,
		Title:     title,
		Status:    model.VoteDraft,
		Audience:  in.Audience,
		OpensAt:   in.OpensAt.UTC(),
		ClosesAt:  in.ClosesAt.UTC(),
		Options:   opts,
		CreatedBy: in.CreatedBy,
		CreatedAt: s.clock.Now(),
	}
	if err := s.votes.CreateVote(ctx, &v); err != nil {
		return model.Vote{}, fmt.Errorf("create vote: %w", err)
	}
	return v, nil
}

// OpenVote moves a DRAFT vote to OPEN.
func (s *VoteService) OpenVote(ctx context.Context, projectID, voteID uint64) (model.Vote, error) {
	return s.transition(ctx, projectID, voteID, model.VoteDraft, model.VoteOpen)
}

// CloseVote moves an OPEN vote to CLOSED.  Closed votes never reopen.
func (s *VoteService) CloseVote(ctx context.Context, projectID, voteID uint64) (model.Vote, error) {
	return s.transition(ctx, projectID, voteID, model.VoteOpen, model.VoteClosed)
}

func (s *VoteService) transition(ctx context.Context, projectID, voteID uint64, from, to string) (model.Vote, error) {
	v, err := s.voteInProject(ctx, projectID, voteID)
	if err != nil {
		return model.Vote{}, err
	}
	if v.Status == to {
		return v, nil
	}
	if v.Status != from {
		return model.Vote{}, conflict("vote %d is %s, cannot move to %s", voteID, v.Status, to)
	}
	moved, err := s.votes.TransitionVote(ctx, voteID, from, to)
	if err != nil {
		return model.Vote{}, fmt.Errorf("transition vote: %w", err)
	}
	if !moved {
		// Someone else moved it; report whatever state it is in now.
		if v, err = s.votes.GetVote(ctx, voteID); err != nil {
			return model.Vote{}, fmt.Errorf("reload vote: %w", err)
		}
		if v.Status != to {
			return model.Vote{}, conflict("vote %d is %s, cannot move to %s", voteID, v.Status, to)
		}
		return v, nil
	}
	v.Status = to
	return v, nil
}

// BallotResult is the caller's ballot.  AlreadyVoted is true when the
// ballot existed before this call; the stored choice is never changed.
type BallotResult struct {
	Ballot       model.VoteBallot `json:"ballot"`
	AlreadyVoted bool             `json:"already_voted"`
}

// CastBallot records callerID's choice.  The vote must be OPEN and the
// current time must lie in [OpensAt, ClosesAt).
func (s *VoteService) CastBallot(ctx context.Context, projectID, voteID, optionID, callerID uint64) (BallotResult, error) {
	v, err := s.voteInProject(ctx, projectID, voteID)
	if err != nil {
		return BallotResult{}, err
	}
	now := s.clock.Now()
	if v.Status != model.VoteOpen {
		return BallotResult{}, badRequest("vote %d is not open", voteID)
	}
	if now.Before(v.OpensAt) {
		return BallotResult{}, badRequest("vote %d has not opened yet", voteID)
	}
	if !now.Before(v.ClosesAt) {
		return BallotResult{}, badRequest("vote %d has closed", voteID)
	}
	if !hasOption(v, optionID) {
		return BallotResult{}, badRequest("option %d does not belong to vote %d", optionID, voteID)
	}
	if err := s.requireEligible(ctx, v, callerID); err != nil {
		return BallotResult{}, err
	}

	existing, err := s.votes.GetBallot(ctx, voteID, callerID)
	if err == nil {
		return BallotResult{Ballot: existing, AlreadyVoted: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return BallotResult{}, fmt.Errorf("get ballot: %w", err)
	}

	b := model.VoteBallot{VoteID: voteID, UserID: callerID, OptionID: optionID, CreatedAt: now}
	err = s.votes.CreateBallot(ctx, &b)
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost the race against a concurrent retry; the first ballot wins.
		existing, err := s.votes.GetBallot(ctx, voteID, callerID)
		if err != nil {
			return BallotResult{}, fmt.Errorf("reload ballot: %w", err)
		}
		return BallotResult{Ballot: existing, AlreadyVoted: true}, nil
	}
	if err != nil {
		return BallotResult{}, fmt.Errorf("create ballot: %w", err)
	}
	return BallotResult{Ballot: b}, nil
}

// Participation reports who voted without revealing what anyone chose.
type Participation struct {
	VoteID          uint64   `json:"vote_id"`
	Eligible        int      `json:"eligible"`
	Voted           int      `json:"voted"`
	NotVoted        int      `json:"not_voted"`
	Rate            float64  `json:"rate"`
	VotedUserIDs    []uint64 `json:"voted_user_ids"`
	NotVotedUserIDs []uint64 `json:"not_voted_user_ids"`
}

// GetParticipation splits the vote's eligible audience into voted and
// not-voted sets.
func (s *VoteService) GetParticipation(ctx context.Context, projectID, voteID uint64) (Participation, error) {
	v, err := s.voteInProject(ctx, projectID, voteID)
	if err != nil {
		return Participation{}, err
	}
	members, err := s.members.ListProjectMembers(ctx, v.ProjectID)
	if err != nil {
		return Participation{}, fmt.Errorf("list project members: %w", err)
	}
	voters, err := s.votes.BallotUserIDs(ctx, voteID)
	if err != nil {
		return Participation{}, fmt.Errorf("list voters: %w", err)
	}
	votedSet := make(map[uint64]bool, len(voters))
	for _, id := range voters {
		votedSet[id] = true
	}

	p := Participation{VoteID: voteID, VotedUserIDs: []uint64{}, NotVotedUserIDs: []uint64{}}
	for _, m := range members {
		if !v.Audience.Includes(m.RoleName) {
			continue
		}
		p.Eligible++
		if votedSet[m.UserID] {
			p.VotedUserIDs = append(p.VotedUserIDs, m.UserID)
		} else {
			p.NotVotedUserIDs = append(p.NotVotedUserIDs, m.UserID)
		}
	}
	p.Voted = len(p.VotedUserIDs)
	p.NotVoted = len(p.NotVotedUserIDs)
	if p.Eligible > 0 {
		p.Rate = float64(p.Voted) / float64(p.Eligible)
	}
	return p, nil
}

func (s *VoteService) voteInProject(ctx context.Context, projectID, voteID uint64) (model.Vote, error) {
	v, err := s.votes.GetVote(ctx, voteID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && v.ProjectID != projectID) {
		return model.Vote{}, notFound("vote %d", voteID)
	}
	if err != nil {
		return model.Vote{}, fmt.Errorf("get vote: %w", err)
	}
	return v, nil
}

func (s *VoteService) requireEligible(ctx context.Context, v model.Vote, userID uint64) error {
	memberships, err := s.members.ListMemberships(ctx, userID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	for _, m := range memberships {
		if m.ProjectID == v.ProjectID && v.Audience.Includes(m.RoleName) {
			return nil
		}
	}
	return forbidden("user %d is not in the audience of vote %d", userID, v.ID)
}

func hasOption(v model.Vote, optionID uint64) bool {
	for _, o := range v.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
