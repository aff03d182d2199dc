package model

import "time"

// Message is a project announcement.  SentAt is set exactly once; a message
// scheduled in the future stays unsent until its deferred dispatch runs.
type Message struct {
	ID          uint64     `json:"id"`
	ProjectID   uint64     `json:"project_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Audience    Audience   `json:"audience"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedBy   uint64     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Sent reports whether the message has been delivered.
func (m Message) Sent() bool { return m.SentAt != nil }
