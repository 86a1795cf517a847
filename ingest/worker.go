// Package ingest moves events from a feed subscription into the store, one
// transaction per event.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kova98/feedgrep.ingest/enums"
	"github.com/kova98/feedgrep.ingest/sources"
)

type State int32

const (
	StateIdle State = iota
	StateAuthenticated
	StateStreaming
	StateItemErrorRecovered
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateStreaming:
		return "STREAMING"
	case StateItemErrorRecovered:
		return "ITEM_ERROR_RECOVERED"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Feed yields events until it fails or is closed.
type Feed[E any] interface {
	Next(ctx context.Context) (E, error)
}

// Sink stores one record in its own transaction and reports whether a row was inserted.
type Sink[R any] interface {
	Persist(ctx context.Context, record R) (bool, error)
}

type SinkFunc[R any] func(ctx context.Context, record R) (bool, error)

func (f SinkFunc[R]) Persist(ctx context.Context, record R) (bool, error) {
	return f(ctx, record)
}

// PersistenceError means one event was dropped. The worker logs it and moves on.
type PersistenceError struct {
	Feed    enums.Feed
	EventID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s event %q: %v", e.Feed, e.EventID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Config[E, R any] struct {
	Name      enums.Feed
	Feed      Feed[E]
	Transform func(event E, now time.Time) (R, error)
	Sink      Sink[R]
	EventID   func(event E) string

	// Describe returns log attributes for the progress line of a stored record.
	Describe func(record R) []any

	Throttle       time.Duration
	PersistTimeout time.Duration
	Metrics        *Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

type Worker[E, R any] struct {
	cfg   Config[E, R]
	feed  string
	state atomic.Int32
}

func NewWorker[E, R any](cfg Config[E, R]) *Worker[E, R] {
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.EventID == nil {
		cfg.EventID = func(E) string { return "" }
	}
	if cfg.Describe == nil {
		cfg.Describe = func(R) []any { return nil }
	}

	w := &Worker[E, R]{cfg: cfg, feed: string(cfg.Name)}
	w.setState(StateIdle)
	return w
}

func (w *Worker[E, R]) State() State {
	return State(w.state.Load())
}

func (w *Worker[E, R]) setState(s State) {
	w.state.Store(int32(s))
	w.cfg.Metrics.setState(w.feed, s)
}

// Run consumes the feed until ctx is done or the feed is closed, which return nil, or
// until the feed fails, whose error is returned. Per-event failures never stop Run.
func (w *Worker[E, R]) Run(ctx context.Context) error {
	logger := w.cfg.Logger
	w.setState(StateAuthenticated)
	logger.Info("worker started")

	streaming := false
	for {
		event, err := w.cfg.Feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, sources.ErrSubscriptionClosed) {
				w.setState(StateStopped)
				logger.Info("worker stopped")
				return nil
			}
			w.setState(StateFailed)
			w.cfg.Metrics.SubscriptionFailures.WithLabelValues(w.feed).Inc()
			logger.Error("worker failed", "error", err)
			return err
		}
		if !streaming {
			streaming = true
			w.setState(StateStreaming)
		}

		w.cfg.Metrics.EventsReceived.WithLabelValues(w.feed).Inc()
		if err := w.process(ctx, event); err != nil {
			w.setState(StateItemErrorRecovered)
			w.cfg.Metrics.PersistFailures.WithLabelValues(w.feed).Inc()
			logger.Error("failed to persist event", "error", err)
			continue
		}
		if w.State() == StateItemErrorRecovered {
			w.setState(StateStreaming)
		}

		// pause only after a commit
		if !w.throttle(ctx) {
			w.setState(StateStopped)
			logger.Info("worker stopped")
			return nil
		}
	}
}

func (w *Worker[E, R]) process(ctx context.Context, event E) error {
	id := w.cfg.EventID(event)

	record, err := w.cfg.Transform(event, w.cfg.Now())
	if err != nil {
		return &PersistenceError{Feed: w.cfg.Name, EventID: id, Err: err}
	}

	// an accepted event either commits or rolls back, even during shutdown
	persistCtx := context.WithoutCancel(ctx)
	if w.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(persistCtx, w.cfg.PersistTimeout)
		defer cancel()
	}

	start := time.Now()
	inserted, err := w.cfg.Sink.Persist(persistCtx, record)
	w.cfg.Metrics.PersistDuration.WithLabelValues(w.feed).Observe(time.Since(start).Seconds())
	if err != nil {
		return &PersistenceError{Feed: w.cfg.Name, EventID: id, Err: err}
	}

	if !inserted {
		w.cfg.Metrics.RecordsSkipped.WithLabelValues(w.feed).Inc()
		w.cfg.Logger.Debug("skipped stored event", "id", id)
		return nil
	}

	w.cfg.Metrics.RecordsPersisted.WithLabelValues(w.feed).Inc()
	w.cfg.Logger.Info("persisted event", append([]any{"id", id}, w.cfg.Describe(record)...)...)
	return nil
}

// throttle waits the configured delay and reports false when ctx ended first.
func (w *Worker[E, R]) throttle(ctx context.Context) bool {
	if w.cfg.Throttle <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.cfg.Throttle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
