package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kova98/feedgrep.ingest/backoff"
	"github.com/kova98/feedgrep.ingest/sources"
)

// Task runs one worker. A Task returning a *sources.SubscriptionFailure is restarted.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Supervisor struct {
	logger       *slog.Logger
	restarts     backoff.Policy
	healthyAfter time.Duration
	metrics      *Metrics
	onFailure    func(task string, err error)
}

// NewSupervisor allows restarts.Attempts-1 restarts per task. A run that lasted at least
// healthyAfter before failing starts a fresh budget; zero never resets it. onFailure may
// be nil.
func NewSupervisor(
	logger *slog.Logger,
	restarts backoff.Policy,
	healthyAfter time.Duration,
	metrics *Metrics,
	onFailure func(task string, err error),
) *Supervisor {
	return &Supervisor{
		logger:       logger,
		restarts:     restarts,
		healthyAfter: healthyAfter,
		metrics:      metrics,
		onFailure:    onFailure,
	}
}

// Run starts every task and waits for all of them. The first task that fails for good
// cancels the others and its error is returned.
func (s *Supervisor) Run(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			return s.supervise(ctx, task)
		})
	}
	return g.Wait()
}

// healthyRunError ends a restart budget early after a run that outlived healthyAfter.
type healthyRunError struct {
	err error
}

func (e *healthyRunError) Error() string { return e.err.Error() }
func (e *healthyRunError) Unwrap() error { return e.err }

func (s *Supervisor) supervise(ctx context.Context, task Task) error {
	logger := s.logger.With("task", task.Name)

	policy := s.restarts
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("restarting worker", "attempt", attempt, "restart_in", wait.String(), "error", err)
		s.countRestart(task.Name)
	}

	for {
		err := policy.Do(ctx, func(ctx context.Context) error {
			started := time.Now()
			err := task.Run(ctx)
			if err == nil {
				return nil
			}
			var failure *sources.SubscriptionFailure
			if !errors.As(err, &failure) {
				return backoff.Permanent(err)
			}
			if s.healthyAfter > 0 && time.Since(started) >= s.healthyAfter {
				return backoff.Permanent(&healthyRunError{err: err})
			}
			return err
		})

		var healthy *healthyRunError
		if errors.As(err, &healthy) && ctx.Err() == nil {
			logger.Warn("restarting worker with a fresh budget", "restart_in", policy.Delay.String(), "error", healthy.err)
			s.countRestart(task.Name)
			if !pause(ctx, policy.Delay) {
				return nil
			}
			continue
		}

		if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
			return nil
		}

		err = errors.Wrapf(err, "worker %s", task.Name)
		logger.Error("worker gave up", "error", err)
		if s.onFailure != nil {
			s.onFailure(task.Name, err)
		}
		return err
	}
}

func (s *Supervisor) countRestart(task string) {
	if s.metrics != nil {
		s.metrics.Restarts.WithLabelValues(task).Inc()
	}
}

// pause sleeps for d and reports false when ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
