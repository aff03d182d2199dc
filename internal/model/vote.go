package model

import "time"

// Vote states.  Transitions are linear: DRAFT -> OPEN -> CLOSED.
const (
	VoteDraft  = "DRAFT"
	VoteOpen   = "OPEN"
	VoteClosed = "CLOSED"
)

// Audience filters which project members a vote or message targets.
type Audience string

const (
	AudienceAll       Audience = "all"
	AudienceResidents Audience = "residents"
	AudienceCommittee Audience = "committee"
)

// Valid reports whether a is a known audience filter.
func (a Audience) Valid() bool {
	switch a {
	case AudienceAll, AudienceResidents, AudienceCommittee:
		return true
	}
	return false
}

// Includes reports whether a member holding roleName belongs to the
// audience.
func (a Audience) Includes(roleName string) bool {
	switch a {
	case AudienceAll:
		return true
	case AudienceResidents:
		return roleName == RoleResident
	case AudienceCommittee:
		return roleName == RoleCommittee
	}
	return false
}

// Vote is a ballot question scoped to a project.  Ballots are accepted only
// while the vote is OPEN and the request time falls in [OpensAt, ClosesAt).
type Vote struct {
	ID        uint64       `json:"id"`
	ProjectID uint64       `json:"project_id"`
	Title     string       `json:"title"`
	Status    string       `json:"status"`
	Audience  Audience     `json:"audience"`
	OpensAt   time.Time    `json:"opens_at"`
	ClosesAt  time.Time    `json:"closes_at"`
	Options   []VoteOption `json:"options,omitempty"`
	CreatedBy uint64       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}

// VoteOption is one answer a voter may pick.
type VoteOption struct {
	ID     uint64 `json:"id"`
	VoteID uint64 `json:"vote_id"`
	Label  string `json:"label"`
}

// VoteBallot is written at most once per (vote, user); the first write wins.
type VoteBallot struct {
	ID        uint64    `json:"id"`
	VoteID    uint64    `json:"vote_id"`
	UserID    uint64    `json:"user_id"`
	OptionID  uint64    `json:"option_id"`
	CreatedAt time.Time `json:"created_at"`
}
