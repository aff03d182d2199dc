// Package queue carries message notifications over RabbitMQ.
package queue

import (
	"fmt"
	"time"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// MessageSentQueue is the durable queue notifications are published to.
const MessageSentQueue = "message.sent"

// MessageSentEvent is published once per message when it is sent.  It holds
// enough for downstream consumers to log or notify without querying the
// primary database.
type MessageSentEvent struct {
	MessageID uint64 `json:"message_id"`
	ProjectID uint64 `json:"project_id"`
	Title     string `json:"title"`
	Audience  string `json:"audience"`
	CreatedBy uint64 `json:"created_by"`
	Scheduled bool   `json:"scheduled"`
	SentAt    string `json:"sent_at"`
}

// NewMessageSentEvent builds the event for a sent message.
func NewMessageSentEvent(m model.Message) MessageSentEvent {
	ev := MessageSentEvent{
		MessageID: m.ID,
		ProjectID: m.ProjectID,
		Title:     m.Title,
		Audience:  string(m.Audience),
		CreatedBy: m.CreatedBy,
		Scheduled: m.ScheduledAt != nil,
	}
	if m.SentAt != nil {
		ev.SentAt = m.SentAt.UTC().Format(time.RFC3339)
	}
	return ev
}

// DedupKey identifies the event across redeliveries.  A message is sent
// once, so its id is enough.
func (e MessageSentEvent) DedupKey() string {
	return fmt.Sprintf("message-%d", e.MessageID)
}
