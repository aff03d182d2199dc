package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/config"
	"github.com/iliyamo/renewal-portal/internal/middleware"
	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/service"
	"github.com/iliyamo/renewal-portal/internal/utils"
)

type userFinder interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
}

type projectLookup interface {
	GetPrincipalProject(ctx context.Context, principalID uint64) (service.ProjectContext, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    userFinder
	Projects projectLookup
	Audit    *service.AuditRecorder
}

func NewAuthHandler(cfg config.Config, users userFinder, projects projectLookup, audit *service.AuditRecorder) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: users, Projects: projects, Audit: audit}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires_at"`
}
type userPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
}
type authResp struct {
	User   userPart  `json:"user"`
	Access tokenPart `json:"access"`
}

// Login verifies credentials and issues an access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return err
	}
	if err := utils.CheckPassword(u.PasswordHash, req.Password); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if u.Disabled {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, h.Cfg.AccessTTLMin)
	if err != nil {
		return err
	}

	h.Audit.Record(ctx, service.AuditEventInput{
		ActorID:    u.ID,
		Action:     "auth.login",
		TargetType: "user",
		TargetID:   &u.ID,
		Metadata:   map[string]any{"ip": c.RealIP()},
	})

	return c.JSON(http.StatusOK, authResp{
		User:   userPart{ID: u.ID, Email: u.Email},
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// MyProject returns the project the caller resolves to and the role held
// there.
func (h *AuthHandler) MyProject(c echo.Context) error {
	p := middleware.PrincipalFrom(c)
	if p == nil {
		return &service.Error{Kind: service.ErrUnauthenticated, Message: "authentication required"}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	pc, err := h.Projects.GetPrincipalProject(ctx, p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":       p.ID,
		"email":         p.Email,
		"is_admin_root": p.IsAdminRoot(),
		"project":       pc.Project,
		"role":          pc.Role,
	})
}
