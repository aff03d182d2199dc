package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/tasks"
)

// DispatchTaskName is the deferred task that sends a scheduled message.
const DispatchTaskName = "messages.dispatch"

type dispatchPayload struct {
	MessageID uint64 `json:"message_id"`
}

// MessageService creates messages and moves them from unsent to sent
// exactly once.  The task runner may deliver a dispatch more than once, so
// every send path re-reads the message and relies on the store's
// conditional update.
type MessageService struct {
	messages    MessageStore
	scheduler   TaskScheduler
	notifier    Notifier
	audit       *AuditRecorder
	clock       Clock
	maxAttempts int
	logger      *zap.Logger
}

func NewMessageService(messages MessageStore, scheduler TaskScheduler, notifier Notifier, audit *AuditRecorder, clock Clock, maxAttempts int, logger *zap.Logger) *MessageService {
	return &MessageService{
		messages:    messages,
		scheduler:   scheduler,
		notifier:    notifier,
		audit:       audit,
		clock:       clock,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// CreateMessageInput describes a new message.  A nil or past ScheduledAt
// sends immediately.
type CreateMessageInput struct {
	ProjectID   uint64
	Title       string
	Body        string
	Audience    model.Audience
	ScheduledAt *time.Time
	CreatedBy   uint64
}

// CreateMessage stores the message and either sends it now or registers a
// deferred dispatch for ScheduledAt.
func (s *MessageService) CreateMessage(ctx context.Context, in CreateMessageInput) (model.Message, error) {
	title, body := strings.TrimSpace(in.Title), strings.TrimSpace(in.Body)
	if title == "" || body == "" {
		return model.Message{}, badRequest("title and body are required")
	}
	if in.Audience == "" {
		in.Audience = model.AudienceAll
	}
	if !in.Audience.Valid() {
		return model.Message{}, badRequest("unknown audience %q", in.Audience)
	}

	now := s.clock.Now()
	m := model.Message{
		ProjectID: in.ProjectID,
		Title:     title,
		Body:      body,
		Audience:  in.Audience,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
	}
	deferred := in.ScheduledAt != nil && in.ScheduledAt.After(now)
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		m.ScheduledAt = &at
	}
	if !deferred {
		m.SentAt = &now
	}
	if err := s.messages.CreateMessage(ctx, &m); err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}

	if !deferred {
		s.notify(ctx, m)
		return m, nil
	}
	// The message is stored either way; a failed registration is picked up
	// by the overdue sweep.
	if err := s.schedule(m, now); err != nil {
		s.logger.Error("schedule message dispatch failed", zap.Uint64("message_id", m.ID), zap.Error(err))
	}
	return m, nil
}

// DispatchScheduled sends a scheduled message if it still exists and is
// unsent.  Repeated or concurrent calls are no-ops after the first send.
func (s *MessageService) DispatchScheduled(ctx context.Context, messageID uint64) error {
	m, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("scheduled message gone, skipping dispatch", zap.Uint64("message_id", messageID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if m.Sent() {
		return nil
	}
	sent, won, err := s.markSent(ctx, m)
	if err != nil {
		return err
	}
	if won {
		s.audit.Record(ctx, AuditEventInput{
			ActorID:    sent.CreatedBy,
			ProjectID:  &sent.ProjectID,
			Action:     "messages.sent",
			TargetType: "message",
			TargetID:   &sent.ID,
			Metadata:   map[string]any{"trigger": "scheduled"},
		})
	}
	return nil
}

// HandleDispatchTask adapts DispatchScheduled to the task runner.
func (s *MessageService) HandleDispatchTask(ctx context.Context, payload json.RawMessage) error {
	var p dispatchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}
	return s.DispatchScheduled(ctx, p.MessageID)
}

// SendNow sends a scheduled message ahead of time.  alreadySent is true
// when the message had been sent before this call.
func (s *MessageService) SendNow(ctx context.Context, projectID, messageID uint64) (m model.Message, alreadySent bool, err error) {
	m, err = s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && m.ProjectID != projectID) {
		return model.Message{}, false, notFound("message %d", messageID)
	}
	if err != nil {
		return model.Message{}, false, fmt.Errorf("get message: %w", err)
	}
	if m.Sent() {
		return m, true, nil
	}
	m, won, err := s.markSent(ctx, m)
	if err != nil {
		return model.Message{}, false, err
	}
	return m, !won, nil
}

// ReschedulePending registers a dispatch for every unsent scheduled
// message.  Run at startup since the task runner keeps no state across
// restarts.
func (s *MessageService) ReschedulePending(ctx context.Context) (int, error) {
	pending, err := s.messages.ListUnsentScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsent messages: %w", err)
	}
	now := s.clock.Now()
	n := 0
	for _, m := range pending {
		if err := s.schedule(m, now); err != nil {
			s.logger.Error("reschedule message failed", zap.Uint64("message_id", m.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// SweepOverdue dispatches unsent messages whose time has passed.  It backs
// up the task runner when a registration was lost.
func (s *MessageService) SweepOverdue(ctx context.Context) (int, error) {
	overdue, err := s.messages.ListOverdue(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list overdue messages: %w", err)
	}
	n := 0
	for _, m := range overdue {
		if err := s.DispatchScheduled(ctx, m.ID); err != nil {
			s.logger.Warn("overdue dispatch failed", zap.Uint64("message_id", m.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *MessageService) schedule(m model.Message, now time.Time) error {
	delay := time.Duration(0)
	if m.ScheduledAt != nil {
		delay = m.ScheduledAt.Sub(now)
	}
	_, err := s.scheduler.Add(DispatchTaskName, dispatchPayload{MessageID: m.ID}, tasks.Options{
		Delay:       delay,
		MaxAttempts: s.maxAttempts,
	})
	return err
}

// markSent stamps sent_at.  won is false when another caller sent the
// message first; the returned message is then the stored one.
func (s *MessageService) markSent(ctx context.Context, m model.Message) (model.Message, bool, error) {
	now := s.clock.Now()
	won, err := s.messages.MarkSent(ctx, m.ID, now)
	if err != nil {
		return model.Message{}, false, fmt.Errorf("mark sent: %w", err)
	}
	if !won {
		current, err := s.messages.GetMessage(ctx, m.ID)
		if err != nil {
			return model.Message{}, false, fmt.Errorf("reload message: %w", err)
		}
		return current, false, nil
	}
	m.SentAt = &now
	s.logger.Info("message sent", zap.Uint64("message_id", m.ID), zap.Uint64("project_id", m.ProjectID))
	s.notify(ctx, m)
	return m, true, nil
}

func (s *MessageService) notify(ctx context.Context, m model.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.MessageSent(ctx, m); err != nil {
		s.logger.Warn("message notification failed", zap.Uint64("message_id", m.ID), zap.Error(err))
	}
}
