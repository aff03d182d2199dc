package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
)

// ApartmentService manages who lives in which apartment.  The two-occupant
// limit is enforced here, at write time, by the store's atomic
// count-then-insert.
type ApartmentService struct {
	apartments ApartmentStore
	members    MemberStore
	logger     *zap.Logger
}

func NewApartmentService(apartments ApartmentStore, members MemberStore, logger *zap.Logger) *ApartmentService {
	return &ApartmentService{apartments: apartments, members: members, logger: logger}
}

// AssignUserToApartment adds userID as an occupant.  The first occupant
// becomes primary, the second secondary; a third fails with Conflict.
func (s *ApartmentService) AssignUserToApartment(ctx context.Context, projectID, apartmentID, userID uint64) (model.ApartmentUser, error) {
	if _, err := s.apartmentInProject(ctx, projectID, apartmentID); err != nil {
		return model.ApartmentUser{}, err
	}
	memberships, err := s.members.ListMemberships(ctx, userID)
	if err != nil {
		return model.ApartmentUser{}, fmt.Errorf("list memberships: %w", err)
	}
	if !hasProject(memberships, projectID) {
		return model.ApartmentUser{}, &Error{Kind: ErrBadRequest, Message: "user is not a project member", Offending: []uint64{userID}}
	}

	occ, err := s.apartments.AddOccupant(ctx, apartmentID, userID)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return model.ApartmentUser{}, conflict("apartment %d already has %d occupants", apartmentID, model.MaxApartmentOccupants)
	case errors.Is(err, repository.ErrDuplicate):
		return model.ApartmentUser{}, conflict("user %d already lives in apartment %d", userID, apartmentID)
	case err != nil:
		return model.ApartmentUser{}, fmt.Errorf("add occupant: %w", err)
	}
	s.logger.Info("apartment occupant added",
		zap.Uint64("apartment_id", apartmentID),
		zap.Uint64("user_id", userID),
		zap.String("role", occ.Role),
	)
	return occ, nil
}

// RemoveUserFromApartment deletes the occupant row.
func (s *ApartmentService) RemoveUserFromApartment(ctx context.Context, projectID, apartmentID, userID uint64) error {
	if _, err := s.apartmentInProject(ctx, projectID, apartmentID); err != nil {
		return err
	}
	removed, err := s.apartments.RemoveOccupant(ctx, apartmentID, userID)
	if err != nil {
		return fmt.Errorf("remove occupant: %w", err)
	}
	if !removed {
		return notFound("user %d is not an occupant of apartment %d", userID, apartmentID)
	}
	return nil
}

// Occupants lists the user IDs living in an apartment of the project.
func (s *ApartmentService) Occupants(ctx context.Context, projectID, apartmentID uint64) ([]uint64, error) {
	if _, err := s.apartmentInProject(ctx, projectID, apartmentID); err != nil {
		return nil, err
	}
	rows, err := s.apartments.ListOccupants(ctx, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("list occupants: %w", err)
	}
	ids := make([]uint64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

func (s *ApartmentService) apartmentInProject(ctx context.Context, projectID, apartmentID uint64) (model.Apartment, error) {
	apt, err := s.apartments.GetApartment(ctx, apartmentID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && apt.ProjectID != projectID) {
		return model.Apartment{}, notFound("apartment %d", apartmentID)
	}
	if err != nil {
		return model.Apartment{}, fmt.Errorf("get apartment: %w", err)
	}
	return apt, nil
}

func hasProject(memberships []model.Membership, projectID uint64) bool {
	for _, m := range memberships {
		if m.ProjectID == projectID {
			return true
		}
	}
	return false
}
