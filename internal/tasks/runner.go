// Package tasks runs named units of work after a delay, retrying failures
// with exponential backoff.  State is kept in memory; callers that need
// durability re-register their work at startup.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Handler processes one task payload.  A returned error (or a panic)
// schedules a retry until the task's attempts are exhausted.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Options tune a single task.  Zero values fall back to the runner config.
type Options struct {
	Delay       time.Duration
	MaxAttempts int
}

// Status of a task held by the runner.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// Task is a snapshot of a queued, running or retained task.
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Config holds runner-wide defaults.
type Config struct {
	BaseDelay   time.Duration // delay before the first retry; doubles per attempt
	MaxDelay    time.Duration // cap on a single retry delay
	MaxAttempts int           // default attempts per task
}

var (
	ErrStopped   = errors.New("task runner stopped")
	ErrNoHandler = errors.New("no handler registered")
)

// Runner executes tasks on timers.  A task never runs concurrently with
// itself; successful tasks are forgotten and exhausted ones are retained
// with status failed for inspection.
type Runner struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	handlers map[string]Handler
	tasks    map[string]*Task
	timers   map[string]*time.Timer
	inflight map[string]bool
	stopped  bool
}

func New(cfg Config, logger *zap.Logger) *Runner {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		tasks:    make(map[string]*Task),
		timers:   make(map[string]*time.Timer),
		inflight: make(map[string]bool),
	}
}

// RegisterHandler binds name to fn, replacing any previous handler.
func (r *Runner) RegisterHandler(name string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Add queues a task and returns its ID.  payload is JSON-encoded unless it
// already is raw JSON.
func (r *Runner) Add(name string, payload any, opts Options) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.MaxAttempts
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return "", ErrStopped
	}
	if _, ok := r.handlers[name]; !ok {
		return "", fmt.Errorf("%w for %q", ErrNoHandler, name)
	}
	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     raw,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		RunAt:       now.Add(delay),
		CreatedAt:   now,
	}
	r.tasks[t.ID] = t
	r.scheduleLocked(t.ID, delay)
	r.logger.Debug("task queued", zap.String("task_id", t.ID), zap.String("name", name), zap.Duration("delay", delay))
	return t.ID, nil
}

// Get returns a snapshot of the task, if the runner still holds it.
func (r *Runner) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Retained lists tasks that exhausted their attempts.
func (r *Runner) Retained() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Task
	for _, t := range r.tasks {
		if t.Status == StatusFailed {
			out = append(out, *t)
		}
	}
	return out
}

// Retry gives a retained task a fresh set of attempts and runs it now.
func (r *Runner) Retry(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusFailed {
		return fmt.Errorf("task %s is not retained", id)
	}
	t.Status = StatusPending
	t.Attempts = 0
	t.RunAt = time.Now().UTC()
	r.scheduleLocked(id, 0)
	return nil
}

// Stop cancels pending timers and waits for running handlers to return.
// Handlers observe cancellation through their context.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for id, tm := range r.timers {
		tm.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) scheduleLocked(id string, delay time.Duration) {
	if old, ok := r.timers[id]; ok {
		old.Stop()
	}
	r.timers[id] = time.AfterFunc(delay, func() { r.execute(id) })
}

// execute runs one attempt of the task.  A fire for a task that is already
// in flight is dropped.
func (r *Runner) execute(id string) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok || r.stopped || r.inflight[id] || t.Status == StatusFailed {
		r.mu.Unlock()
		return
	}
	h := r.handlers[t.Name]
	r.inflight[id] = true
	delete(r.timers, id)
	t.Status = StatusRunning
	t.Attempts++
	name, payload, attempt := t.Name, t.Payload, t.Attempts
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	err := r.invoke(h, payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
	if err == nil {
		delete(r.tasks, id)
		return
	}
	t.LastError = err.Error()
	if attempt >= t.MaxAttempts {
		t.Status = StatusFailed
		r.logger.Error("task failed permanently, retained",
			zap.String("task_id", id),
			zap.String("name", name),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}
	t.Status = StatusPending
	if r.stopped {
		return
	}
	delay := r.backoff(attempt)
	t.RunAt = time.Now().UTC().Add(delay)
	r.logger.Warn("task failed, retrying",
		zap.String("task_id", id),
		zap.String("name", name),
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	)
	r.scheduleLocked(id, delay)
}

func (r *Runner) invoke(h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	if h == nil {
		return ErrNoHandler
	}
	return h(r.ctx, payload)
}

// backoff returns the delay after the given failed attempt:
// base, 2*base, 4*base, ... capped at MaxDelay.
func (r *Runner) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(r.cfg.MaxDelay, retry.NewExponential(r.cfg.BaseDelay))
	var d time.Duration
	for i := 0; i < max(attempt, 1); i++ {
		d, _ = b.Next()
	}
	return d
}

func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload bytes are not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	return json.Marshal(v)
}
