package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/tasks"
)

// The interfaces below are satisfied by the MySQL repositories.  They return
// repository.ErrNotFound, repository.ErrDuplicate and repository.ErrConflict
// for the cases the engines care about.

// RolePermissionStore resolves the permission keys granted to roles.
type RolePermissionStore interface {
	PermissionKeysForRoles(ctx context.Context, roleIDs []uint64) ([]string, error)
}

// PrincipalStore loads a user together with its memberships.
type PrincipalStore interface {
	LoadPrincipal(ctx context.Context, userID uint64) (model.Principal, error)
}

// MemberStore reads and writes project memberships.
type MemberStore interface {
	ListMemberships(ctx context.Context, userID uint64) ([]model.Membership, error)
	ListProjectMembers(ctx context.Context, projectID uint64) ([]model.Membership, error)
	AddMember(ctx context.Context, projectID, userID, roleID uint64) (model.Membership, error)
	RemoveMember(ctx context.Context, projectID, userID uint64) (bool, error)
}

// ProjectStore reads projects.
type ProjectStore interface {
	GetProject(ctx context.Context, id uint64) (model.Project, error)
}

// RoleStore mutates the role -> permission assignment.
type RoleStore interface {
	GetRole(ctx context.Context, id uint64) (model.Role, error)
	GrantPermission(ctx context.Context, roleID uint64, key string) error
	RevokePermission(ctx context.Context, roleID uint64, key string) (bool, error)
}

// AuditStore appends and lists audit events.
type AuditStore interface {
	Insert(ctx context.Context, ev *model.AuditEvent) error
	List(ctx context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error)
}

// DocumentStore persists documents and their assignments.  CreateAssignment
// returns ErrDuplicate when (document, resident) already exists; MarkSigned
// only flips PENDING rows and reports whether it did.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, id uint64) (model.Document, error)
	CreateAssignment(ctx context.Context, a *model.DocumentAssignment) error
	GetAssignment(ctx context.Context, id uint64) (model.DocumentAssignment, error)
	MarkSigned(ctx context.Context, id uint64, signedAt time.Time, meta json.RawMessage) (bool, error)
}

// ApartmentStore persists apartment occupants.  AddOccupant counts and
// inserts atomically: ErrConflict when the apartment is full, ErrDuplicate
// when the user already lives there.
type ApartmentStore interface {
	GetApartment(ctx context.Context, id uint64) (model.Apartment, error)
	ListOccupants(ctx context.Context, apartmentID uint64) ([]model.ApartmentUser, error)
	AddOccupant(ctx context.Context, apartmentID, userID uint64) (model.ApartmentUser, error)
	RemoveOccupant(ctx context.Context, apartmentID, userID uint64) (bool, error)
}

// VoteStore persists votes and ballots.  CreateBallot returns ErrDuplicate
// when the user already voted; TransitionVote only moves rows currently in
// the from state.
type VoteStore interface {
	CreateVote(ctx context.Context, v *model.Vote) error
	GetVote(ctx context.Context, id uint64) (model.Vote, error)
	TransitionVote(ctx context.Context, id uint64, from, to string) (bool, error)
	GetBallot(ctx context.Context, voteID, userID uint64) (model.VoteBallot, error)
	CreateBallot(ctx context.Context, b *model.VoteBallot) error
	BallotUserIDs(ctx context.Context, voteID uint64) ([]uint64, error)
}

// MessageStore persists messages.  MarkSent only stamps rows whose sent_at
// is still NULL and reports whether it did.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id uint64) (model.Message, error)
	MarkSent(ctx context.Context, id uint64, sentAt time.Time) (bool, error)
	ListUnsentScheduled(ctx context.Context) ([]model.Message, error)
	ListOverdue(ctx context.Context, now time.Time) ([]model.Message, error)
}

// Storage is the object store holding document files.
type Storage interface {
	Upload(ctx context.Context, body []byte, key, contentType string) (string, error)
	GenerateTimeLimitedAccess(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// TaskScheduler accepts delayed work.  Implemented by *tasks.Runner.
type TaskScheduler interface {
	Add(name string, payload any, opts tasks.Options) (string, error)
}

// Notifier fans a sent message out to downstream consumers.  Failures are
// logged by the caller and never undo the send.
type Notifier interface {
	MessageSent(ctx context.Context, m model.Message) error
}
