package model

import (
	"encoding/json"
	"time"
)

// AuditEvent is an append-only record of a mutating action.  ProjectID and
// TargetID are nil for global actions.
type AuditEvent struct {
	ID         uint64          `json:"id"`
	ActorID    uint64          `json:"actor_id"`
	ProjectID  *uint64         `json:"project_id,omitempty"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   *uint64         `json:"target_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
