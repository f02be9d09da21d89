// Package scheduler runs the periodic jobs: calendar refresh and the daily
// range rollover.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "clockcal/internal/log"
)

// Spec holds the cron expressions (standard five-field syntax).
type Spec struct {
	Refresh  string
	Rollover string
	// Location evaluates the schedules. Nil means time.Local.
	Location *time.Location
}

// Jobs are the callbacks the schedules trigger. Either may be nil.
type Jobs struct {
	Refresh  func(ctx context.Context) error
	Rollover func(ctx context.Context) error
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the schedules and registers the jobs. Nothing runs until Start.
func New(spec Spec, jobs Jobs) (*Scheduler, error) {
	loc := spec.Location
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel}

	if err := s.add("refresh", spec.Refresh, jobs.Refresh); err != nil {
		cancel()
		return nil, err
	}
	if err := s.add("rollover", spec.Rollover, jobs.Rollover); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, expr string, job func(context.Context) error) error {
	if job == nil || expr == "" {
		return nil
	}
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", name)
			return
		}
		appLog.Debug("scheduled job finished", "job", name, "took", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, expr, err)
	}
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels the context handed to running jobs and
// waits for them, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when each registered job runs next, in registration order.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// cronLogger routes cron's own diagnostics into the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
