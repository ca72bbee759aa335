package maintenance

import (
	"fmt"
	"log/slog"

	robfigcron "github.com/robfig/cron/v3"
)

// Flusher retries failed history writes. *history.Store is the production
// implementation.
type Flusher interface {
	FlushDirty() (int, error)
}

// Service runs periodic housekeeping on a cron schedule. Its one job is
// re-flushing history writes that failed in-line, so a transient disk
// error never silently loses a conversation.
type Service struct {
	scheduler *robfigcron.Cron
	flusher   Flusher
}

// NewService creates a Service that flushes via flusher on the given
// cron schedule (standard five-field syntax).
func NewService(schedule string, flusher Flusher) (*Service, error) {
	s := &Service{
		scheduler: robfigcron.New(),
		flusher:   flusher,
	}
	if _, err := s.scheduler.AddFunc(schedule, s.flushOnce); err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the scheduler.
func (s *Service) Start() {
	s.scheduler.Start()
}

// Stop stops the scheduler and runs one final flush so nothing dirty is
// left behind on shutdown.
func (s *Service) Stop() {
	s.scheduler.Stop()
	s.flushOnce()
}

func (s *Service) flushOnce() {
	n, err := s.flusher.FlushDirty()
	if err != nil {
		slog.Warn("history flush failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("flushed pending history writes", "conversations", n)
	}
}
