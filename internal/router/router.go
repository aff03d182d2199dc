package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/handler"
	"github.com/iliyamo/renewal-portal/internal/middleware"
)

// Handlers groups the HTTP handlers behind the API.
type Handlers struct {
	Auth       *handler.AuthHandler
	Documents  *handler.DocumentHandler
	Apartments *handler.ApartmentHandler
	Votes      *handler.VoteHandler
	Messages   *handler.MessageHandler
	Admin      *handler.AdminHandler
}

// Deps are the middlewares shared by protected routes.
type Deps struct {
	DB         *sql.DB
	JWTSecret  string
	Principals *middleware.PrincipalLoader
	Guard      *middleware.Guard
	RateLimit  echo.MiddlewareFunc
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, db *sql.DB, auth *handler.AuthHandler) {
	e.GET("/healthz", handler.Health(db))
	e.POST("/v1/auth/login", auth.Login)
}

// RegisterAPI registers the protected /v1 routes.  Every route runs
// JWTAuth and the principal loader; each one then declares its guarded
// action, which carries its permissions and audit key.  Workflow writes
// that clients retry go through the rate limiter.
func RegisterAPI(e *echo.Echo, h Handlers, d Deps) {
	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), d.Principals.Middleware())
	guard := d.Guard.Require
	limit := d.RateLimit

	g.GET("/me/project", h.Auth.MyProject)

	// ---- Documents ----
	g.POST("/documents", h.Documents.Create, guard(middleware.ActionDocumentCreate))
	g.POST("/documents/:id/assign", h.Documents.Assign, limit, guard(middleware.ActionDocumentAssign))
	g.POST("/assignments/:id/sign", h.Documents.Sign, limit, guard(middleware.ActionAssignmentSign))
	g.GET("/assignments/:id/download", h.Documents.Download, guard(middleware.ActionAssignmentDownload))

	// ---- Apartments ----
	g.GET("/apartments/:id/users", h.Apartments.ListUsers, guard(middleware.ActionApartmentListUsers))
	g.POST("/apartments/:id/users", h.Apartments.AddUser, limit, guard(middleware.ActionApartmentAddUser))
	g.DELETE("/apartments/:id/users/:user_id", h.Apartments.RemoveUser, guard(middleware.ActionApartmentRemoveUser))

	// ---- Votes ----
	g.POST("/votes", h.Votes.Create, guard(middleware.ActionVoteCreate))
	g.POST("/votes/:id/open", h.Votes.Open, guard(middleware.ActionVoteOpen))
	g.POST("/votes/:id/close", h.Votes.Close, guard(middleware.ActionVoteClose))
	g.POST("/votes/:id/ballots", h.Votes.Cast, limit, guard(middleware.ActionVoteCast))
	g.GET("/votes/:id/participation", h.Votes.Participation, guard(middleware.ActionVoteParticipation))

	// ---- Messages ----
	g.POST("/messages", h.Messages.Create, limit, guard(middleware.ActionMessageCreate))
	g.POST("/messages/:id/send", h.Messages.Send, limit, guard(middleware.ActionMessageSend))

	// ---- Administration ----
	g.POST("/members", h.Admin.AddMember, guard(middleware.ActionMemberAdd))
	g.DELETE("/members/:user_id", h.Admin.RemoveMember, guard(middleware.ActionMemberRemove))
	g.POST("/roles/:id/permissions", h.Admin.GrantPermission, guard(middleware.ActionRolePermissionGrant))
	g.DELETE("/roles/:id/permissions/:key", h.Admin.RevokePermission, guard(middleware.ActionRolePermissionRevoke))
	g.GET("/audit-events", h.Admin.ListAudit, guard(middleware.ActionAuditList))
}
