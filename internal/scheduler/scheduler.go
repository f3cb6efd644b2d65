// Package scheduler runs the maintenance sweeps on fixed intervals. Every
// run holds a cluster-wide lock so only one instance sweeps at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"training-service/internal/lock"
	"training-service/internal/service"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

type Sweeper interface {
	RunAutoComplete(ctx context.Context) (*service.SweepReport, error)
	RunReminderSweep(ctx context.Context) (*service.SweepReport, error)
}

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (*service.SweepReport, error)
}

type Scheduler struct {
	log     *slog.Logger
	locker  lock.Locker
	lockTTL time.Duration
	jobs    []Job
}

func New(log *slog.Logger, locker lock.Locker, lockTTL time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{
		log:     log.With(slog.String("component", "scheduler")),
		locker:  locker,
		lockTTL: lockTTL,
		jobs:    jobs,
	}
}

// Jobs builds the two maintenance jobs for a sweeper.
func Jobs(sw Sweeper, autoComplete, reminder time.Duration) []Job {
	return []Job{
		{Name: service.SweepAutoComplete, Interval: autoComplete, Run: sw.RunAutoComplete},
		{Name: service.SweepReminder, Interval: reminder, Run: sw.RunReminderSweep},
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.Warn("job disabled", slog.String("job", job.Name))
			continue
		}

		job := job
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.log.Info("job started", slog.String("job", job.Name), slog.Duration("interval", job.Interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("job stopped", slog.String("job", job.Name))
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes the job if no other instance holds its lock.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (*service.SweepReport, error) {
	log := s.log.With(slog.String("job", job.Name))

	release, err := lock.AcquireAll(ctx, s.locker, lock.Options{TTL: s.lockTTL}, "sweep:"+job.Name)
	if errors.Is(err, response.ErrLocked) {
		log.Debug("sweep already running elsewhere")
		return nil, err
	}
	if err != nil {
		log.Error("failed to take sweep lock", sl.Err(err))
		return nil, err
	}
	defer release()

	report, err := job.Run(ctx)
	if err != nil {
		log.Error("sweep failed", sl.Err(err))
		return nil, err
	}

	log.Info("sweep finished",
		slog.Int("processed", report.Processed),
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("skipped", len(report.Skipped)),
	)

	return report, nil
}
