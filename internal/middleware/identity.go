package middleware

// identity.go holds the context keys shared by the auth chain and the
// accessors handlers use to read them back.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/model"
)

const (
	ctxUserID      = "user_id"
	ctxPrincipal   = "principal"
	ctxProjectID   = "project_id"
	ctxAuditTarget = "audit_target_id"
	ctxAuditMeta   = "audit_meta"
)

// UserIDFrom returns the authenticated user ID set by JWTAuth, or 0.
func UserIDFrom(c echo.Context) uint64 {
	id, _ := c.Get(ctxUserID).(uint64)
	return id
}

// PrincipalFrom returns the principal set by LoadPrincipal, or nil.
func PrincipalFrom(c echo.Context) *model.Principal {
	p, _ := c.Get(ctxPrincipal).(*model.Principal)
	return p
}

// ProjectIDFrom returns the project the guard resolved for this request, or
// 0 for actions that are not project scoped.
func ProjectIDFrom(c echo.Context) uint64 {
	id, _ := c.Get(ctxProjectID).(uint64)
	return id
}

// SetAuditTarget overrides the audit target ID, for actions whose target
// is created by the handler itself.
func SetAuditTarget(c echo.Context, id uint64) {
	c.Set(ctxAuditTarget, id)
}

// AddAuditMeta attaches a key to the audit metadata of the current action.
func AddAuditMeta(c echo.Context, key string, value any) {
	meta, _ := c.Get(ctxAuditMeta).(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
		c.Set(ctxAuditMeta, meta)
	}
	meta[key] = value
}

// rateKeyID identifies the caller for rate limiting: the user ID when
// authenticated, "anon" otherwise.
func rateKeyID(c echo.Context) string {
	if p := PrincipalFrom(c); p != nil && p.ID != 0 {
		return formatID(p.ID)
	}
	if id := UserIDFrom(c); id != 0 {
		return formatID(id)
	}
	return "anon"
}
