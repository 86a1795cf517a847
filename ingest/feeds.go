package ingest

import (
	"log/slog"
	"time"

	"github.com/kova98/feedgrep.ingest/data"
	"github.com/kova98/feedgrep.ingest/enums"
	"github.com/kova98/feedgrep.ingest/models"
)

// Options are the settings shared by the submission and comment workers.
type Options struct {
	Throttle       time.Duration
	PersistTimeout time.Duration
	Metrics        *Metrics
	Logger         *slog.Logger
}

func NewPostWorker(feed Feed[models.RedditSubmission], sink Sink[data.Post], opts Options) *Worker[models.RedditSubmission, data.Post] {
	return NewWorker(Config[models.RedditSubmission, data.Post]{
		Name:      enums.FeedPosts,
		Feed:      feed,
		Transform: PostFromSubmission,
		Sink:      sink,
		EventID:   func(s models.RedditSubmission) string { return s.ID },
		Describe: func(p data.Post) []any {
			return []any{"subreddit", p.Subreddit, "title", truncateTitle(p.Title)}
		},
		Throttle:       opts.Throttle,
		PersistTimeout: opts.PersistTimeout,
		Metrics:        opts.Metrics,
		Logger:         opts.Logger,
	})
}

func NewCommentWorker(feed Feed[models.RedditComment], sink Sink[data.Comment], opts Options) *Worker[models.RedditComment, data.Comment] {
	return NewWorker(Config[models.RedditComment, data.Comment]{
		Name:      enums.FeedComments,
		Feed:      feed,
		Transform: CommentFromEvent,
		Sink:      sink,
		EventID:   func(c models.RedditComment) string { return c.ID },
		Describe: func(c data.Comment) []any {
			return []any{"subreddit", c.Subreddit, "link_id", c.LinkID}
		},
		Throttle:       opts.Throttle,
		PersistTimeout: opts.PersistTimeout,
		Metrics:        opts.Metrics,
		Logger:         opts.Logger,
	})
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return title
}
