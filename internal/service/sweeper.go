package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MessageSweeper periodically dispatches overdue scheduled messages.
type MessageSweeper struct {
	cron   *cron.Cron
	svc    *MessageService
	logger *zap.Logger
}

func NewMessageSweeper(svc *MessageService, logger *zap.Logger) *MessageSweeper {
	return &MessageSweeper{cron: cron.New(), svc: svc, logger: logger}
}

// Start registers the sweep under the given cron spec and starts the
// scheduler.
func (s *MessageSweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("message sweeper started", zap.String("schedule", spec))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *MessageSweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("message sweeper stopped")
}

func (s *MessageSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.svc.SweepOverdue(ctx)
	if err != nil {
		s.logger.Warn("message sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("overdue messages dispatched", zap.Int("count", n))
	}
}
