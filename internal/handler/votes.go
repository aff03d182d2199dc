package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/middleware"
	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/service"
)

type voteEngine interface {
	CreateVote(ctx context.Context, in service.CreateVoteInput) (model.Vote, error)
	OpenVote(ctx context.Context, projectID, voteID uint64) (model.Vote, error)
	CloseVote(ctx context.Context, projectID, voteID uint64) (model.Vote, error)
	CastBallot(ctx context.Context, projectID, voteID, optionID, callerID uint64) (service.BallotResult, error)
	GetParticipation(ctx context.Context, projectID, voteID uint64) (service.Participation, error)
}

type VoteHandler struct {
	Votes voteEngine
}

func NewVoteHandler(votes voteEngine) *VoteHandler {
	return &VoteHandler{Votes: votes}
}

type createVoteReq struct {
	Title    string         `json:"title"`
	Audience model.Audience `json:"audience"`
	OpensAt  time.Time      `json:"opens_at"`
	ClosesAt time.Time      `json:"closes_at"`
	Options  []string       `json:"options"`
}

func (h *VoteHandler) Create(c echo.Context) error {
	var req createVoteReq
	if err := c.Bind(&req); err != nil {
		return invalidBody()
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := h.Votes.CreateVote(ctx, service.CreateVoteInput{
		ProjectID: middleware.ProjectIDFrom(c),
		Title:     req.Title,
		Audience:  req.Audience,
		OpensAt:   req.OpensAt,
		ClosesAt:  req.ClosesAt,
		Options:   req.Options,
		CreatedBy: middleware.PrincipalFrom(c).ID,
	})
	if err != nil {
		return err
	}
	middleware.SetAuditTarget(c, v.ID)
	return c.JSON(http.StatusCreated, v)
}

func (h *VoteHandler) Open(c echo.Context) error {
	return h.transition(c, h.Votes.OpenVote)
}

func (h *VoteHandler) Close(c echo.Context) error {
	return h.transition(c, h.Votes.CloseVote)
}

func (h *VoteHandler) transition(c echo.Context, move func(ctx context.Context, projectID, voteID uint64) (model.Vote, error)) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := move(ctx, middleware.ProjectIDFrom(c), id)
	if err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "status", v.Status)
	return c.JSON(http.StatusOK, v)
}

type castReq struct {
	OptionID uint64 `json:"option_id"`
}

// Cast is safe to retry: 201 for a new ballot, 200 with already_voted
// when the caller voted before.  The first choice always stands.
func (h *VoteHandler) Cast(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req castReq
	if err := c.Bind(&req); err != nil || req.OptionID == 0 {
		return invalidBody()
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Votes.CastBallot(ctx, middleware.ProjectIDFrom(c), id, req.OptionID, middleware.PrincipalFrom(c).ID)
	if err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "already_voted", res.AlreadyVoted)
	if res.AlreadyVoted {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *VoteHandler) Participation(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Votes.GetParticipation(ctx, middleware.ProjectIDFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
