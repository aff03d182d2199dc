package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/middleware"
	"github.com/iliyamo/renewal-portal/internal/model"
)

type adminOps interface {
	AddMember(ctx context.Context, projectID, userID, roleID uint64) (model.Membership, error)
	RemoveMember(ctx context.Context, projectID, userID uint64) error
	GrantPermission(ctx context.Context, roleID uint64, key string) error
	RevokePermission(ctx context.Context, roleID uint64, key string) error
}

type auditReader interface {
	List(ctx context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error)
}

// AdminHandler serves membership, role and audit endpoints.
type AdminHandler struct {
	Admin adminOps
	Audit auditReader
}

func NewAdminHandler(admin adminOps, audit auditReader) *AdminHandler {
	return &AdminHandler{Admin: admin, Audit: audit}
}

type addMemberReq struct {
	UserID uint64 `json:"user_id"`
	RoleID uint64 `json:"role_id"`
}

func (h *AdminHandler) AddMember(c echo.Context) error {
	var req addMemberReq
	if err := c.Bind(&req); err != nil {
		return invalidBody()
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	m, err := h.Admin.AddMember(ctx, middleware.ProjectIDFrom(c), req.UserID, req.RoleID)
	if err != nil {
		return err
	}
	middleware.SetAuditTarget(c, m.UserID)
	middleware.AddAuditMeta(c, "role", m.RoleName)
	return c.JSON(http.StatusCreated, m)
}

func (h *AdminHandler) RemoveMember(c echo.Context) error {
	userID, err := idParam(c, "user_id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Admin.RemoveMember(ctx, middleware.ProjectIDFrom(c), userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type grantReq struct {
	Permission string `json:"permission"`
}

func (h *AdminHandler) GrantPermission(c echo.Context) error {
	roleID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req grantReq
	if err := c.Bind(&req); err != nil {
		return invalidBody()
	}
	key := strings.TrimSpace(req.Permission)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Admin.GrantPermission(ctx, roleID, key); err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "permission", key)
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) RevokePermission(c echo.Context) error {
	roleID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	key := c.Param("key")
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Admin.RevokePermission(ctx, roleID, key); err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "permission", key)
	return c.NoContent(http.StatusNoContent)
}

// ListAudit returns the latest audit events of the caller's project.
// ?limit= caps the page (default 100, max 500).
func (h *AdminHandler) ListAudit(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	projectID := middleware.ProjectIDFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Audit.List(ctx, &projectID, limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []model.AuditEvent{}
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}
