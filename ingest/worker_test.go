package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kova98/feedgrep.ingest/data"
	"github.com/kova98/feedgrep.ingest/enums"
	"github.com/kova98/feedgrep.ingest/models"
	"github.com/kova98/feedgrep.ingest/sources"
)

// sliceFeed yields its events and then reports itself closed, or err when set.
type sliceFeed[E any] struct {
	mu     sync.Mutex
	events []E
	err    error
}

func (f *sliceFeed[E]) Next(ctx context.Context) (E, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero E
	if len(f.events) > 0 {
		e := f.events[0]
		f.events = f.events[1:]
		return e, nil
	}
	if f.err != nil {
		return zero, f.err
	}
	return zero, sources.ErrSubscriptionClosed
}

// blockingFeed yields nothing until ctx is done.
type blockingFeed[E any] struct{}

func (blockingFeed[E]) Next(ctx context.Context) (E, error) {
	var zero E
	<-ctx.Done()
	return zero, ctx.Err()
}

type memorySink[R any] struct {
	mu   sync.Mutex
	rows []R
	fail func(R) error
}

func (s *memorySink[R]) Persist(ctx context.Context, record R) (bool, error) {
	if s.fail != nil {
		if err := s.fail(record); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, record)
	return true, nil
}

func (s *memorySink[R]) stored() []R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]R(nil), s.rows...)
}

func testOptions(metrics *Metrics) Options {
	return Options{
		PersistTimeout: time.Second,
		Metrics:        metrics,
		Logger:         slog.New(slog.DiscardHandler),
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name, feed string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == name {
			family = f
		}
	}
	require.NotNil(t, family, "metric %s not gathered", name)

	for _, m := range family.GetMetric() {
		for _, label := range m.GetLabel() {
			if label.GetName() == "feed" && label.GetValue() == feed {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s has no series for feed %s", name, feed)
	return 0
}

func TestWorker_PersistsExampleSubmission(t *testing.T) {
	feed := &sliceFeed[models.RedditSubmission]{events: []models.RedditSubmission{exampleSubmission()}}
	sink := &memorySink[data.Post]{}
	w := NewPostWorker(feed, sink, testOptions(nil))

	require.NoError(t, w.Run(context.Background()))

	rows := sink.stored()
	require.Len(t, rows, 1)
	assert.Equal(t, "abc123", rows[0].PostID)
	assert.Equal(t, "Test", rows[0].Title)
	assert.Equal(t, "u1", *rows[0].Author)
	assert.Equal(t, exampleCreated, rows[0].CreatedUTC)
	assert.False(t, rows[0].IngestedAt.IsZero())
	assert.False(t, rows[0].IngestedAt.Before(rows[0].CreatedUTC))
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_IsolatesMalformedEvent(t *testing.T) {
	malformed := exampleSubmission()
	malformed.ID = ""
	second := exampleSubmission()
	second.ID = "def456"

	feed := &sliceFeed[models.RedditSubmission]{events: []models.RedditSubmission{exampleSubmission(), malformed, second}}
	sink := &memorySink[data.Post]{}
	metrics := NewMetrics(prometheus.NewRegistry())
	w := NewPostWorker(feed, sink, testOptions(metrics))

	require.NoError(t, w.Run(context.Background()))

	rows := sink.stored()
	require.Len(t, rows, 2)
	assert.Equal(t, "abc123", rows[0].PostID)
	assert.Equal(t, "def456", rows[1].PostID)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.EventsReceived.WithLabelValues("posts")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsPersisted.WithLabelValues("posts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("posts")))
}

func TestWorker_ContinuesAfterStoreError(t *testing.T) {
	events := []models.RedditComment{exampleCommentEvent(), exampleCommentEvent(), exampleCommentEvent()}
	events[1].ID = "broken"
	events[2].ID = "c3"

	var seenStates []State
	var w *Worker[models.RedditComment, data.Comment]
	sink := &memorySink[data.Comment]{fail: func(c data.Comment) error {
		seenStates = append(seenStates, w.State())
		if c.CommentID == "broken" {
			return errors.New("value too long for type character varying(30)")
		}
		return nil
	}}
	w = NewCommentWorker(&sliceFeed[models.RedditComment]{events: events}, sink, testOptions(nil))

	require.NoError(t, w.Run(context.Background()))

	assert.Len(t, sink.stored(), 2)
	assert.Equal(t, []State{StateStreaming, StateStreaming, StateItemErrorRecovered}, seenStates)
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_ReturnsSubscriptionFailure(t *testing.T) {
	failure := &sources.SubscriptionFailure{Feed: enums.FeedComments, Failures: 5, Err: errors.New("status 503")}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := NewCommentWorker(&sliceFeed[models.RedditComment]{err: failure}, &memorySink[data.Comment]{}, testOptions(metrics))

	err := w.Run(context.Background())

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, StateFailed, w.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SubscriptionFailures.WithLabelValues("comments")))
	assert.Equal(t, float64(StateFailed), gaugeValue(t, reg, "feedgrep_ingest_worker_state", "comments"))
	assert.Equal(t, map[string]string{"comments": "FAILED"}, metrics.States())
}

func TestWorker_StopsOnCancel(t *testing.T) {
	w := NewPostWorker(blockingFeed[models.RedditSubmission]{}, &memorySink[data.Post]{}, testOptions(nil))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_FinishesPersistDuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var persistErr error
	sink := &memorySink[data.Post]{}
	feed := &sliceFeed[models.RedditSubmission]{events: []models.RedditSubmission{exampleSubmission()}}

	w := NewPostWorker(feed, SinkFunc[data.Post](func(pctx context.Context, p data.Post) (bool, error) {
		cancel()
		persistErr = pctx.Err()
		return sink.Persist(pctx, p)
	}), Options{Throttle: time.Hour, Logger: slog.New(slog.DiscardHandler)})

	require.NoError(t, w.Run(ctx))

	assert.NoError(t, persistErr)
	assert.Len(t, sink.stored(), 1)
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_CountsSkippedDuplicates(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	feed := &sliceFeed[models.RedditSubmission]{events: []models.RedditSubmission{exampleSubmission()}}
	w := NewPostWorker(feed, SinkFunc[data.Post](func(context.Context, data.Post) (bool, error) {
		return false, nil
	}), testOptions(metrics))

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("posts")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RecordsPersisted.WithLabelValues("posts")))
}

func TestWorker_ThrottlesBetweenEvents(t *testing.T) {
	events := []models.RedditSubmission{exampleSubmission(), exampleSubmission(), exampleSubmission()}
	opts := testOptions(nil)
	opts.Throttle = 10 * time.Millisecond
	w := NewPostWorker(&sliceFeed[models.RedditSubmission]{events: events}, &memorySink[data.Post]{}, opts)

	start := time.Now()
	require.NoError(t, w.Run(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWorker_DoesNotThrottleAfterFailedEvent(t *testing.T) {
	events := []models.RedditSubmission{exampleSubmission(), exampleSubmission(), exampleSubmission()}
	for i := range events {
		events[i].Subreddit = ""
	}
	opts := testOptions(nil)
	opts.Throttle = time.Second
	w := NewPostWorker(&sliceFeed[models.RedditSubmission]{events: events}, &memorySink[data.Post]{}, opts)

	start := time.Now()
	require.NoError(t, w.Run(context.Background()))

	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkers_ConcurrentStreamsStoreEveryValidEvent(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	posts := make([]models.RedditSubmission, 0, 40)
	for i := 0; i < 40; i++ {
		posts = append(posts, exampleSubmission())
	}
	posts[7].Subreddit = ""

	comments := make([]models.RedditComment, 0, 25)
	for i := 0; i < 25; i++ {
		comments = append(comments, exampleCommentEvent())
	}

	postSink := &memorySink[data.Post]{}
	commentSink := &memorySink[data.Comment]{}
	postWorker := NewPostWorker(&sliceFeed[models.RedditSubmission]{events: posts}, postSink, testOptions(metrics))
	commentWorker := NewCommentWorker(&sliceFeed[models.RedditComment]{events: comments}, commentSink, testOptions(metrics))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, postWorker.Run(context.Background()))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, commentWorker.Run(context.Background()))
	}()
	wg.Wait()

	assert.Equal(t, 39+25, len(postSink.stored())+len(commentSink.stored()))
	assert.Equal(t, map[string]string{"posts": "STOPPED", "comments": "STOPPED"}, metrics.States())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ITEM_ERROR_RECOVERED", StateItemErrorRecovered.String())
	assert.Equal(t, "State(42)", State(42).String())
}
