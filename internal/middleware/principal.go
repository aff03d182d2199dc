package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/service"
)

const principalLoadTimeout = 3 * time.Second

// PrincipalLoader resolves the authenticated user ID into a principal with
// its memberships.  Memberships and roles change at runtime, so the
// principal is read on every request; concurrent requests of the same user
// share one load.
type PrincipalLoader struct {
	store  service.PrincipalStore
	group  singleflight.Group
	logger *zap.Logger
}

func NewPrincipalLoader(store service.PrincipalStore, logger *zap.Logger) *PrincipalLoader {
	return &PrincipalLoader{store: store, logger: logger}
}

// Middleware must run after JWTAuth.
func (l *PrincipalLoader) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := UserIDFrom(c)
			if uid == 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}
			p, err := l.load(c.Request().Context(), uid)
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown user"})
			}
			if err != nil {
				l.logger.Error("load principal failed", zap.Uint64("user_id", uid), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load principal failed"})
			}
			c.Set(ctxPrincipal, p)
			return next(c)
		}
	}
}

func (l *PrincipalLoader) load(ctx context.Context, uid uint64) (*model.Principal, error) {
	v, err, _ := l.group.Do(formatID(uid), func() (interface{}, error) {
		// Shared by every waiter, so it must not die with the first caller.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), principalLoadTimeout)
		defer cancel()
		p, err := l.store.LoadPrincipal(lctx, uid)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.(model.Principal)
	p := shared
	p.Memberships = append([]model.Membership(nil), shared.Memberships...)
	return &p, nil
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
