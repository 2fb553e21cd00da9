// Package scheduler runs the client's periodic background tasks: the
// session counter report and the daily transcript cleanup.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/metrics"
)

// Pruner deletes transcript entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures the scheduler. Zero values disable a task.
type Options struct {
	Metrics       *metrics.Metrics
	StatsInterval time.Duration

	Transcript    Pruner
	RetentionDays int
	CleanupTime   string
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts Options
	now  func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(opts Options) *Scheduler {
	return &Scheduler{
		opts: opts,
		now:  time.Now,
	}
}

// Start runs the enabled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Debug().Msg("scheduler started")

	done := make(chan struct{}, 2)
	running := 0

	if s.opts.Metrics != nil && s.opts.StatsInterval > 0 {
		running++
		go func() {
			s.runStatsLoop(ctx)
			done <- struct{}{}
		}()
	}

	if s.opts.Transcript != nil && s.opts.RetentionDays > 0 {
		running++
		go func() {
			s.runCleanupLoop(ctx)
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	for i := 0; i < running; i++ {
		<-done
	}
	log.Debug().Msg("scheduler stopped")
}

// runStatsLoop logs the session counters at a fixed interval.
func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Scheduler) logStats() {
	snap := s.opts.Metrics.Snapshot()
	log.Info().
		Str("uptime", snap.Uptime).
		Uint64("received", snap.Received).
		Uint64("filtered", snap.Filtered).
		Uint64("empty", snap.Empty).
		Uint64("sent", snap.Sent).
		Uint64("send_errors", snap.SendErrors).
		Msg("session stats")
}

// runCleanupLoop prunes the transcript once a day at the configured time.
func (s *Scheduler) runCleanupLoop(ctx context.Context) {
	for {
		nextRun := nextCleanupTime(s.now(), s.opts.CleanupTime)
		sleep := time.Until(nextRun)

		log.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("transcript cleanup scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
			if _, err := s.CleanupNow(ctx); err != nil {
				log.Warn().Err(err).Msg("transcript cleanup failed")
			}
		}
	}
}

// CleanupNow removes transcript entries older than the retention period.
func (s *Scheduler) CleanupNow(ctx context.Context) (int64, error) {
	if s.opts.Transcript == nil || s.opts.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour)
	removed, err := s.opts.Transcript.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	log.Info().
		Int64("removed", removed).
		Int("retention_days", s.opts.RetentionDays).
		Msg("transcript cleanup completed")
	return removed, nil
}

// nextCleanupTime returns the next occurrence of "HH:MM" after now,
// defaulting to 04:00.
func nextCleanupTime(now time.Time, cleanupTime string) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(cleanupTime, ":")
	if len(parts) >= 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
