package sources

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/kova98/feedgrep.ingest/backoff"
	"github.com/kova98/feedgrep.ingest/enums"
	"github.com/kova98/feedgrep.ingest/matchers"
	"github.com/kova98/feedgrep.ingest/models"
)

// seenLimit is one more than the largest listing reddit returns.
const seenLimit = 301

type event interface {
	models.RedditSubmission | models.RedditComment
	Fullname() string
	SubredditName() string
	DecodeError() error
}

// Subscription yields events that appeared after it was created, oldest first.
// Next must not be called concurrently; Close may be called from any goroutine.
type Subscription[E event] struct {
	logger  *slog.Logger
	session *Session
	feed    enums.Feed
	kind    string
	path    string
	filter  matchers.SubredditFilter

	undecodable func(ref models.RedditThingRef, err error) E

	seen    *lru.Cache
	primed  bool
	pending []E
	wait    time.Duration

	closeCtx  context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc
}

func SubscribeSubmissions(session *Session, subreddits []string) (*Subscription[models.RedditSubmission], error) {
	return subscribe(session, enums.FeedPosts, "t3", "/new", subreddits, models.UndecodableSubmission)
}

func SubscribeComments(session *Session, subreddits []string) (*Subscription[models.RedditComment], error) {
	return subscribe(session, enums.FeedComments, "t1", "/comments", subreddits, models.UndecodableComment)
}

func subscribe[E event](
	session *Session,
	feed enums.Feed,
	kind, suffix string,
	subreddits []string,
	undecodable func(ref models.RedditThingRef, err error) E,
) (*Subscription[E], error) {
	if len(subreddits) == 0 {
		return nil, errors.New("subscribe: no subreddits")
	}

	seen, err := lru.New(seenLimit)
	if err != nil {
		return nil, err
	}

	closeCtx, cancel := context.WithCancel(context.Background())
	return &Subscription[E]{
		logger:      session.logger.With("feed", string(feed)),
		session:     session,
		feed:        feed,
		kind:        kind,
		path:        "/r/" + strings.Join(subreddits, "+") + suffix,
		filter:      matchers.NewSubredditFilter(subreddits),
		undecodable: undecodable,
		seen:        seen,
		wait:        session.opts.minPollInterval,
		closeCtx:    closeCtx,
		cancel:      cancel,
	}, nil
}

// Next blocks until a new event is available. The first poll only records what already
// exists. Next returns ErrSubscriptionClosed after Close, the context error when ctx is
// done and a *SubscriptionFailure when the feed cannot be read any more.
func (s *Subscription[E]) Next(ctx context.Context) (E, error) {
	var zero E

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closeCtx, cancel)
	defer stop()

	for {
		if s.closeCtx.Err() != nil {
			return zero, ErrSubscriptionClosed
		}
		if len(s.pending) > 0 {
			e := s.pending[0]
			s.pending = s.pending[1:]
			return e, nil
		}

		if s.primed {
			if err := s.sleep(ctx); err != nil {
				return zero, s.stopErr(err)
			}
		}

		primed := s.primed
		fresh, err := s.poll(ctx)
		if err != nil {
			return zero, s.stopErr(err)
		}

		if len(fresh) == 0 {
			if primed {
				s.wait = min(s.wait*2, s.session.opts.maxPollInterval)
			}
			continue
		}
		s.wait = s.session.opts.minPollInterval
		s.pending = fresh
	}
}

// Close stops the subscription and cancels any request in flight.
func (s *Subscription[E]) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.logger.Debug("subscription closed")
	})
}

func (s *Subscription[E]) stopErr(err error) error {
	if s.closeCtx.Err() != nil {
		return ErrSubscriptionClosed
	}
	return err
}

func (s *Subscription[E]) sleep(ctx context.Context) error {
	if s.wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// poll fetches the listing once, retrying transient failures, and returns the unseen
// events oldest first.
func (s *Subscription[E]) poll(ctx context.Context) ([]E, error) {
	opts := s.session.opts
	failures := 0

	policy := backoff.Exponential(opts.maxFailures, opts.retryDelay, opts.maxPollInterval)
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("feed poll failed, retrying",
			"attempt", attempt, "max_attempts", opts.maxFailures, "retry_in", wait.String(), "error", err)
	}

	var listing models.RedditListing
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		listing, err = s.session.listing(ctx, s.path)
		if err == nil {
			return nil
		}
		failures++
		if ctx.Err() != nil || isFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SubscriptionFailure{Feed: s.feed, Failures: failures, Err: err}
	}

	return s.collect(listing), nil
}

// collect returns the unseen children oldest first. Children that do not decode, or that
// lack an id or subreddit, are still returned so the worker can report them; only
// well-formed events from other subreddits are dropped.
func (s *Subscription[E]) collect(listing models.RedditListing) []E {
	children := listing.Data.Children
	fresh := make([]E, 0, len(children))

	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if child.Kind != s.kind {
			continue
		}

		e := s.decode(child.Data)
		key := e.Fullname()
		if key == "" {
			key = "raw:" + string(child.Data)
		}
		if s.seen.Contains(key) {
			continue
		}
		s.seen.Add(key, struct{}{})

		if !s.primed {
			continue
		}
		subreddit := e.SubredditName()
		if e.DecodeError() == nil && subreddit != "" && !matchers.MatchesSubreddit(s.filter, subreddit) {
			s.logger.Debug("dropping event from unexpected subreddit", "subreddit", subreddit)
			continue
		}
		fresh = append(fresh, e)
	}

	if !s.primed {
		s.primed = true
		s.logger.Info("subscription primed", "existing", len(children))
	}
	return fresh
}

func (s *Subscription[E]) decode(payload json.RawMessage) E {
	var e E
	err := json.Unmarshal(payload, &e)
	if err == nil {
		return e
	}

	var ref models.RedditThingRef
	_ = json.Unmarshal(payload, &ref)
	s.logger.Warn("undecodable event", "id", ref.ID, "error", err)
	return s.undecodable(ref, err)
}
