// Package jobs runs the in-process periodic tasks: next-day reservation
// reminders and cleanup of expired sessions.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/limpio/internal/models"
)

// ReservationSource lists reservations scheduled inside a window.
type ReservationSource interface {
	DueForReminder(ctx context.Context, from, to time.Time) ([]models.Reservation, error)
}

// Reminder delivers a reminder for one reservation.
type Reminder interface {
	ReservationReminder(ctx context.Context, r models.Reservation)
}

// SessionPurger deletes sessions that can no longer be refreshed.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdleSweeper forgets per-client state that has been idle for a while.
type IdleSweeper interface {
	Prune(idle time.Duration) int
}

// Scheduler wraps a cron instance with the application jobs.
type Scheduler struct {
	cron         *cron.Cron
	log          *zap.Logger
	reservations ReservationSource
	reminder     Reminder
	sessions     SessionPurger
	now          func() time.Time
}

// New constructs a Scheduler. Any dependency may be nil, which skips its job.
func New(log *zap.Logger, reservations ReservationSource, reminder Reminder, sessions SessionPurger) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		log:          log,
		reservations: reservations,
		reminder:     reminder,
		sessions:     sessions,
		now:          time.Now,
	}
}

// Register adds the jobs with their cron specs. An empty spec disables a job.
func (s *Scheduler) Register(reminderSpec, purgeSpec string) error {
	if reminderSpec != "" && s.reservations != nil && s.reminder != nil {
		if _, err := s.cron.AddFunc(reminderSpec, func() { s.SendReminders(context.Background()) }); err != nil {
			return fmt.Errorf("reminder job %q: %w", reminderSpec, err)
		}
	}
	if purgeSpec != "" && s.sessions != nil {
		if _, err := s.cron.AddFunc(purgeSpec, func() { s.PurgeSessions(context.Background()) }); err != nil {
			return fmt.Errorf("session purge job %q: %w", purgeSpec, err)
		}
	}
	return nil
}

// RegisterSweep prunes clients idle for longer than idle from the rate
// limiter on spec. An empty spec or nil sweeper is a no-op.
func (s *Scheduler) RegisterSweep(spec string, sweeper IdleSweeper, idle time.Duration) error {
	if spec == "" || sweeper == nil {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		removed := sweeper.Prune(idle)
		s.log.Debug("rate limiter swept", zap.Int("removed", removed))
	})
	if err != nil {
		return fmt.Errorf("limiter sweep job %q: %w", spec, err)
	}
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop halts the scheduler and returns a context that is done once
// running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SendReminders notifies every open reservation scheduled for tomorrow.
func (s *Scheduler) SendReminders(ctx context.Context) int {
	y, m, d := s.now().Date()
	from := time.Date(y, m, d+1, 0, 0, 0, 0, time.Local)
	to := from.AddDate(0, 0, 1)

	due, err := s.reservations.DueForReminder(ctx, from, to)
	if err != nil {
		s.log.Error("load reservations for reminders", zap.Error(err))
		return 0
	}

	for _, r := range due {
		s.reminder.ReservationReminder(ctx, r)
	}

	s.log.Info("reminders sent", zap.Int("count", len(due)), zap.Time("day", from))
	return len(due)
}

// PurgeSessions deletes sessions whose refresh token expired or that were
// revoked more than a day ago.
func (s *Scheduler) PurgeSessions(ctx context.Context) {
	removed, err := s.sessions.PurgeExpired(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		s.log.Error("purge sessions", zap.Error(err))
		return
	}
	s.log.Info("expired sessions purged", zap.Int64("removed", removed))
}
