package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/service"
)

// ErrorHandler turns errors returned by handlers and the guard into JSON
// responses.  In production a forbidden body does not say which
// permission keys were missing.
func ErrorHandler(production bool, logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := errorResponse(err, production)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn("write error response failed", zap.Error(err))
		}
	}
}

var kindStatus = []struct {
	kind   error
	status int
	code   string
}{
	{service.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{service.ErrConflict, http.StatusConflict, "conflict"},
}

func errorResponse(err error, production bool) (int, echo.Map) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, echo.Map{"error": http.StatusText(he.Code), "message": he.Message}
	}

	for _, k := range kindStatus {
		if !errors.Is(err, k.kind) {
			continue
		}
		body := echo.Map{"error": k.code}
		if k.kind == service.ErrForbidden && production {
			return k.status, body
		}
		if e, ok := service.AsError(err); ok {
			if e.Message != "" {
				body["message"] = e.Message
			}
			if len(e.Missing) > 0 {
				body["missing_permissions"] = e.Missing
			}
			if len(e.Offending) > 0 {
				body["offending_user_ids"] = e.Offending
			}
		}
		return k.status, body
	}
	return http.StatusInternalServerError, echo.Map{"error": "internal error"}
}

// idParam parses a positive numeric path parameter.
func idParam(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.Error{Kind: service.ErrBadRequest, Message: "invalid " + name}
	}
	return id, nil
}

func invalidBody() error {
	return &service.Error{Kind: service.ErrBadRequest, Message: "invalid body"}
}
