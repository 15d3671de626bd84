package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/queue"
)

// SessionPurger removes expired refresh sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// TaskQueue accepts tasks for the worker.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload any) (string, error)
}

type Scheduler struct {
	cron     *cron.Cron
	sessions SessionPurger
	queue    TaskQueue
	log      zerolog.Logger
}

// NewScheduler builds the API's periodic jobs. queue may be nil when the
// worker is not deployed.
func NewScheduler(sessions SessionPurger, queue TaskQueue, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		sessions: sessions,
		queue:    queue,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 15 * * * *", s.PurgeSessions); err != nil {
		return err
	}
	if s.queue != nil {
		if _, err := s.cron.AddFunc("0 0 * * * *", s.EnqueueBatterySweep); err != nil { // hourly
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop waits up to five seconds for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) PurgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.sessions.PurgeExpiredSessions(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("purge expired sessions failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Msg("expired sessions purged")
	}
}

func (s *Scheduler) EnqueueBatterySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.queue.Enqueue(ctx, queue.TaskBatterySweep, nil); err != nil {
		s.log.Error().Err(err).Msg("enqueue battery sweep failed")
	}
}
