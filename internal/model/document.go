package model

import (
	"encoding/json"
	"time"
)

// Assignment states.  PENDING -> SIGNED is the only transition and SIGNED
// is terminal.
const (
	AssignmentPending = "PENDING"
	AssignmentSigned  = "SIGNED"
)

// Occupant roles on an apartment.  The first occupant is primary and the
// second is secondary; an apartment never has more than two.
const (
	OccupantPrimary   = "primary"
	OccupantSecondary = "secondary"

	MaxApartmentOccupants = 2
)

// Document is a file that residents may be asked to sign.  The bytes live in
// object storage under StorageKey.
type Document struct {
	ID          uint64    `json:"id"`
	ProjectID   uint64    `json:"project_id"`
	Title       string    `json:"title"`
	StorageKey  string    `json:"-"`
	ContentType string    `json:"content_type"`
	CreatedBy   uint64    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentAssignment asks one resident to sign one document.  Unique per
// (document, resident).  Once SIGNED the signature fields never change.
type DocumentAssignment struct {
	ID             uint64          `json:"id"`
	DocumentID     uint64          `json:"document_id"`
	ResidentUserID uint64          `json:"resident_user_id"`
	Status         string          `json:"status"`
	SignedAt       *time.Time      `json:"signed_at,omitempty"`
	SignatureMeta  json.RawMessage `json:"signature_meta,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Signed reports whether the assignment reached its terminal state.
func (a DocumentAssignment) Signed() bool { return a.Status == AssignmentSigned }

// Apartment belongs to a project and houses at most two users.
type Apartment struct {
	ID        uint64 `json:"id"`
	ProjectID uint64 `json:"project_id"`
	Label     string `json:"label"`
}

// ApartmentUser is one occupant row of an apartment.
type ApartmentUser struct {
	ID          uint64    `json:"id"`
	ApartmentID uint64    `json:"apartment_id"`
	UserID      uint64    `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// OccupantRole returns the role a new occupant takes given the roles of
// the current occupants, or false when the apartment is full.  The role
// follows the count only: an empty apartment gets a primary, any other gets
// a secondary, even when the remaining occupant is itself secondary.
func OccupantRole(taken []string) (string, bool) {
	switch {
	case len(taken) >= MaxApartmentOccupants:
		return "", false
	case len(taken) == 0:
		return OccupantPrimary, true
	}
	return OccupantSecondary, true
}
