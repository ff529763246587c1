// Package scheduler runs periodic jobs: scraper pulls and the retention sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Job is a task repeated every Interval. A run that outlasts the interval delays
// the next one; runs of the same job never overlap.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Scheduler runs its jobs until the context passed to Run is cancelled.
type Scheduler struct {
	jobs   []Job
	logger *logrus.Logger
}

// New creates an empty scheduler
func New(logger *logrus.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a job. Jobs without a positive interval are ignored.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 || job.Run == nil {
		s.logger.WithField("job", job.Name).Warn("Ignoring job without interval")
		return
	}
	s.jobs = append(s.jobs, job)
}

// Len is the number of registered jobs
func (s *Scheduler) Len() int { return len(s.jobs) }

// Run blocks until ctx is cancelled and every job has returned.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log := s.logger.WithField("job", job.Name)
	log.WithField("interval", job.Interval).Info("Scheduled job")

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunAtStart {
		s.runOnce(ctx, job, log)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, log *logrus.Entry) {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		log.WithField("elapsed", elapsed).Info("Job finished")
	case ctx.Err() != nil:
		log.WithField("elapsed", elapsed).Info("Job interrupted by shutdown")
	default:
		log.WithError(err).WithField("elapsed", elapsed).Error("Job failed")
	}
}
