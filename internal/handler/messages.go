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

type messageEngine interface {
	CreateMessage(ctx context.Context, in service.CreateMessageInput) (model.Message, error)
	SendNow(ctx context.Context, projectID, messageID uint64) (model.Message, bool, error)
}

type MessageHandler struct {
	Messages messageEngine
}

func NewMessageHandler(messages messageEngine) *MessageHandler {
	return &MessageHandler{Messages: messages}
}

type createMessageReq struct {
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Audience    model.Audience `json:"audience"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
}

// Create sends the message now or, with a future scheduled_at, defers it.
func (h *MessageHandler) Create(c echo.Context) error {
	var req createMessageReq
	if err := c.Bind(&req); err != nil {
		return invalidBody()
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	m, err := h.Messages.CreateMessage(ctx, service.CreateMessageInput{
		ProjectID:   middleware.ProjectIDFrom(c),
		Title:       req.Title,
		Body:        req.Body,
		Audience:    req.Audience,
		ScheduledAt: req.ScheduledAt,
		CreatedBy:   middleware.PrincipalFrom(c).ID,
	})
	if err != nil {
		return err
	}
	middleware.SetAuditTarget(c, m.ID)
	middleware.AddAuditMeta(c, "scheduled", !m.Sent())
	return c.JSON(http.StatusCreated, m)
}

// Send delivers a scheduled message early.  Repeats report already_sent.
func (h *MessageHandler) Send(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	m, already, err := h.Messages.SendNow(ctx, middleware.ProjectIDFrom(c), id)
	if err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "trigger", "manual")
	middleware.AddAuditMeta(c, "already_sent", already)
	return c.JSON(http.StatusOK, echo.Map{"message": m, "already_sent": already})
}
