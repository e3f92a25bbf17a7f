// Package scheduler runs periodic maintenance jobs, such as retrying archived
// transcript uploads, on standard 5-field cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultUploadRetrySpec retries archived uploads every ten minutes.
const DefaultUploadRetrySpec = "*/10 * * * *"

// DefaultJobTimeout bounds a single run of a context job.
const DefaultJobTimeout = 5 * time.Minute

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// min, hour, dom, month, dow; panics in jobs are recovered and logged
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, timeout: DefaultJobTimeout}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddContextJob schedules task with a context derived from ctx and bounded by
// DefaultJobTimeout. Errors are logged under name.
func (s *Scheduler) AddContextJob(ctx context.Context, name, expr string, task func(context.Context) error) error {
	return s.AddJob(expr, func() {
		jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		start := time.Now()
		if err := task(jobCtx); err != nil {
			slog.Error("Scheduler: job failed", "job", name, "error", err)
			return
		}
		slog.Debug("Scheduler: job finished", "job", name, "elapsed", time.Since(start))
	})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
