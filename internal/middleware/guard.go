package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/service"
)

// ProjectHeader carries the explicit project in multi-project mode.
const ProjectHeader = "X-Project-ID"

// Guard wraps handlers with the declared checks of their Action:
// authentication, project scope, permissions, then exactly one audit
// record once the handler has returned.  Checks fail before the handler
// runs, so nothing is written on a rejected request.
type Guard struct {
	authz   *service.Authorizer
	scope   *service.ScopeResolver
	audit   *service.AuditRecorder
	actions map[string]Action
	logger  *zap.Logger
}

func NewGuard(authz *service.Authorizer, scope *service.ScopeResolver, audit *service.AuditRecorder, logger *zap.Logger) *Guard {
	return &Guard{authz: authz, scope: scope, audit: audit, actions: Actions, logger: logger}
}

// Require returns the middleware for the named action.  Unknown names are
// a wiring bug and panic at route registration.
func (g *Guard) Require(name string) echo.MiddlewareFunc {
	act, ok := g.actions[name]
	if !ok {
		panic(fmt.Sprintf("middleware: unknown guarded action %q", name))
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFrom(c)
			if err := g.authz.RequireAuthenticated(p); err != nil {
				return err
			}

			var projectID *uint64
			if act.ProjectScoped {
				explicit, err := explicitProject(c)
				if err != nil {
					return err
				}
				id, err := g.scope.ResolveProjectID(p, explicit)
				if err != nil {
					return err
				}
				c.Set(ctxProjectID, id)
				projectID = &id
			}

			if err := g.authz.Authorize(c.Request().Context(), p, act.Permissions); err != nil {
				g.logger.Debug("guarded action denied",
					zap.String("action", name),
					zap.Uint64("user_id", p.ID),
					zap.Error(err),
				)
				return err
			}

			err := next(c)
			if act.AuditAction != "" {
				g.record(c, act, p.ID, projectID, err)
			}
			return err
		}
	}
}

func (g *Guard) record(c echo.Context, act Action, actorID uint64, projectID *uint64, herr error) {
	meta, _ := c.Get(ctxAuditMeta).(map[string]any)
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	if herr == nil && c.Response().Status < http.StatusBadRequest {
		meta["outcome"] = "ok"
	} else {
		meta["outcome"] = "error"
		if herr != nil {
			meta["error"] = herr.Error()
		}
	}
	g.audit.Record(c.Request().Context(), service.AuditEventInput{
		ActorID:    actorID,
		ProjectID:  projectID,
		Action:     act.AuditAction,
		TargetType: act.TargetType,
		TargetID:   auditTarget(c, act),
		Metadata:   meta,
	})
}

func auditTarget(c echo.Context, act Action) *uint64 {
	if id, ok := c.Get(ctxAuditTarget).(uint64); ok && id != 0 {
		return &id
	}
	if act.TargetParam == "" {
		return nil
	}
	id, err := strconv.ParseUint(c.Param(act.TargetParam), 10, 64)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}

func explicitProject(c echo.Context) (*uint64, error) {
	raw := strings.TrimSpace(c.Request().Header.Get(ProjectHeader))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, &service.Error{Kind: service.ErrBadRequest, Message: "invalid " + ProjectHeader + " header"}
	}
	return &id, nil
}
