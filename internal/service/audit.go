package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// AuditEventInput is what callers hand to Record.  Metadata is redacted
// before it is stored.
type AuditEventInput struct {
	ActorID    uint64
	ProjectID  *uint64
	Action     string
	TargetType string
	TargetID   *uint64
	Metadata   map[string]any
}

// AuditRecorder writes the audit trail.  Audit is observability, not a
// transactional guarantee: Record cannot fail from the caller's point of
// view and returns before the insert completes.
type AuditRecorder struct {
	store   AuditStore
	clock   Clock
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewAuditRecorder(store AuditStore, clock Clock, timeout time.Duration, logger *zap.Logger) *AuditRecorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &AuditRecorder{store: store, clock: clock, timeout: timeout, logger: logger}
}

// Record queues one event for a background insert, best effort.  Store
// errors, timeouts and panics are logged and dropped.
func (r *AuditRecorder) Record(ctx context.Context, in AuditEventInput) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("audit record panicked", zap.String("action", in.Action), zap.Any("panic", rec))
		}
	}()

	ev := &model.AuditEvent{
		ActorID:    in.ActorID,
		ProjectID:  in.ProjectID,
		Action:     in.Action,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		CreatedAt:  r.clock.Now(),
	}
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(Redact(in.Metadata))
		if err != nil {
			r.logger.Warn("audit metadata not encodable, dropping it", zap.String("action", in.Action), zap.Error(err))
		} else {
			ev.Metadata = raw
		}
	}

	// The caller's context is cancelled once its response is written; the
	// insert gets its own deadline instead.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.write(wctx, ev)
	}()
}

func (r *AuditRecorder) write(ctx context.Context, ev *model.AuditEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("audit record panicked", zap.String("action", ev.Action), zap.Any("panic", rec))
		}
	}()
	if err := r.store.Insert(ctx, ev); err != nil {
		r.logger.Error("audit record failed",
			zap.String("action", ev.Action),
			zap.Uint64("actor_id", ev.ActorID),
			zap.Error(err),
		)
	}
}

// Wait blocks until every queued insert has finished or timed out.  Call it
// after the producers (HTTP server, task runner) have stopped.
func (r *AuditRecorder) Wait() {
	r.wg.Wait()
}

// List returns the latest events, optionally restricted to one project.
func (r *AuditRecorder) List(ctx context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.store.List(ctx, projectID, limit)
}

var sensitiveKeys = []string{"password", "token", "secret"}

const redacted = "[REDACTED]"

// Redact returns a copy of meta with sensitive values replaced.  Keys are
// matched case-insensitively by substring and nested maps and slices are
// walked.
func Redact(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = redactValue(e)
		}
		return cp
	}
	return v
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
