package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/middleware"
	"github.com/iliyamo/renewal-portal/internal/model"
)

type apartmentEngine interface {
	AssignUserToApartment(ctx context.Context, projectID, apartmentID, userID uint64) (model.ApartmentUser, error)
	RemoveUserFromApartment(ctx context.Context, projectID, apartmentID, userID uint64) error
	Occupants(ctx context.Context, projectID, apartmentID uint64) ([]uint64, error)
}

type ApartmentHandler struct {
	Apartments apartmentEngine
}

func NewApartmentHandler(apartments apartmentEngine) *ApartmentHandler {
	return &ApartmentHandler{Apartments: apartments}
}

type addOccupantReq struct {
	UserID uint64 `json:"user_id"`
}

func (h *ApartmentHandler) AddUser(c echo.Context) error {
	aptID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req addOccupantReq
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		return invalidBody()
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	occ, err := h.Apartments.AssignUserToApartment(ctx, middleware.ProjectIDFrom(c), aptID, req.UserID)
	if err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "user_id", occ.UserID)
	middleware.AddAuditMeta(c, "role", occ.Role)
	return c.JSON(http.StatusCreated, occ)
}

func (h *ApartmentHandler) RemoveUser(c echo.Context) error {
	aptID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	userID, err := idParam(c, "user_id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Apartments.RemoveUserFromApartment(ctx, middleware.ProjectIDFrom(c), aptID, userID); err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "user_id", userID)
	return c.NoContent(http.StatusNoContent)
}

func (h *ApartmentHandler) ListUsers(c echo.Context) error {
	aptID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ids, err := h.Apartments.Occupants(ctx, middleware.ProjectIDFrom(c), aptID)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return c.JSON(http.StatusOK, echo.Map{"apartment_id": aptID, "user_ids": ids})
}
