package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kova98/feedgrep.ingest/backoff"
	"github.com/kova98/feedgrep.ingest/enums"
	"github.com/kova98/feedgrep.ingest/sources"
)

func subscriptionFailure() error {
	return &sources.SubscriptionFailure{Feed: enums.FeedPosts, Failures: 5, Err: errors.New("status 503")}
}

type failureLog struct {
	mu    sync.Mutex
	tasks []string
	errs  []error
}

func (l *failureLog) record(task string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, task)
	l.errs = append(l.errs, err)
}

func newTestSupervisor(restarts int, metrics *Metrics, failures *failureLog) *Supervisor {
	var onFailure func(string, error)
	if failures != nil {
		onFailure = failures.record
	}
	return NewSupervisor(slog.New(slog.DiscardHandler), backoff.Constant(restarts+1, time.Millisecond), 0, metrics, onFailure)
}

func TestSupervisor_RestartsAfterSubscriptionFailure(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	var runs atomic.Int32
	task := Task{Name: "posts", Run: func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return subscriptionFailure()
		}
		return nil
	}}

	err := newTestSupervisor(3, metrics, nil).Run(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, int32(3), runs.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Restarts.WithLabelValues("posts")))
}

func TestSupervisor_GivesUpAfterRestartBudget(t *testing.T) {
	failures := &failureLog{}
	var runs atomic.Int32
	task := Task{Name: "comments", Run: func(ctx context.Context) error {
		runs.Add(1)
		return subscriptionFailure()
	}}

	err := newTestSupervisor(2, nil, failures).Run(context.Background(), task)

	var failure *sources.SubscriptionFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, err.Error(), "worker comments")
	assert.Equal(t, int32(3), runs.Load())
	assert.Equal(t, []string{"comments"}, failures.tasks)
}

func TestSupervisor_HealthyRunResetsRestartBudget(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	var runs atomic.Int32
	task := Task{Name: "posts", Run: func(ctx context.Context) error {
		if runs.Add(1) > 4 {
			return nil
		}
		time.Sleep(30 * time.Millisecond)
		return subscriptionFailure()
	}}
	supervisor := NewSupervisor(slog.New(slog.DiscardHandler), backoff.Constant(2, time.Millisecond), 20*time.Millisecond, metrics, nil)

	err := supervisor.Run(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, int32(5), runs.Load())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Restarts.WithLabelValues("posts")))
}

func TestSupervisor_DoesNotRestartOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	var runs atomic.Int32
	task := Task{Name: "posts", Run: func(ctx context.Context) error {
		runs.Add(1)
		return boom
	}}

	err := newTestSupervisor(3, nil, nil).Run(context.Background(), task)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), runs.Load())
}

func TestSupervisor_FailureStopsSiblings(t *testing.T) {
	siblingStopped := make(chan struct{})
	failing := Task{Name: "posts", Run: func(ctx context.Context) error {
		return subscriptionFailure()
	}}
	sibling := Task{Name: "comments", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingStopped)
		return nil
	}}

	err := newTestSupervisor(0, nil, nil).Run(context.Background(), failing, sibling)

	require.Error(t, err)
	select {
	case <-siblingStopped:
	default:
		t.Fatal("sibling task still running")
	}
}

func TestSupervisor_CancelIsCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	run := func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- newTestSupervisor(3, nil, nil).Run(ctx, Task{Name: "posts", Run: run}, Task{Name: "comments", Run: run})
	}()
	<-started
	<-started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
