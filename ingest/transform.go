package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kova98/feedgrep.ingest/data"
	"github.com/kova98/feedgrep.ingest/models"
)

// ErrMalformedEvent is wrapped by transform errors for events that cannot become records.
var ErrMalformedEvent = errors.New("malformed event")

// deletedAuthor is what reddit reports for removed accounts.
const deletedAuthor = "[deleted]"

func PostFromSubmission(s models.RedditSubmission, now time.Time) (data.Post, error) {
	if err := validate(s.ID, s.Subreddit, s.CreatedUTC, s.DecodeErr); err != nil {
		return data.Post{}, fmt.Errorf("submission %q: %w", s.ID, err)
	}

	created := createdAt(s.CreatedUTC)
	return data.Post{
		PostID:      s.ID,
		Title:       s.Title,
		Selftext:    optional(s.Selftext),
		Author:      authorName(s.Author),
		Score:       s.Score,
		NumComments: s.NumComments,
		CreatedUTC:  created,
		Subreddit:   s.Subreddit,
		Flair:       optionalPtr(s.LinkFlairText),
		URL:         s.URL,
		Over18:      s.Over18,
		IsSelf:      s.IsSelf,
		IngestedAt:  ingestedAt(now, created),
	}, nil
}

func CommentFromEvent(c models.RedditComment, now time.Time) (data.Comment, error) {
	if err := validate(c.ID, c.Subreddit, c.CreatedUTC, c.DecodeErr); err != nil {
		return data.Comment{}, fmt.Errorf("comment %q: %w", c.ID, err)
	}

	created := createdAt(c.CreatedUTC)
	return data.Comment{
		CommentID:     c.ID,
		Body:          c.Body,
		Author:        authorName(c.Author),
		Score:         c.Score,
		CreatedUTC:    created,
		Subreddit:     c.Subreddit,
		IsSubmitter:   c.IsSubmitter,
		Distinguished: optionalPtr(c.Distinguished),
		ParentID:      c.ParentID,
		LinkID:        c.LinkID,
		IngestedAt:    ingestedAt(now, created),
	}, nil
}

func validate(id, subreddit string, created float64, decodeErr error) error {
	switch {
	case decodeErr != nil:
		return fmt.Errorf("%w: %v", ErrMalformedEvent, decodeErr)
	case id == "":
		return fmt.Errorf("%w: missing id", ErrMalformedEvent)
	case subreddit == "":
		return fmt.Errorf("%w: missing subreddit", ErrMalformedEvent)
	case created <= 0 || math.IsNaN(created) || math.IsInf(created, 0):
		return fmt.Errorf("%w: invalid creation time %v", ErrMalformedEvent, created)
	}
	return nil
}

// authorName returns nil for deleted or missing accounts.
func authorName(author string) *string {
	if author == "" || author == deletedAuthor {
		return nil
	}
	return &author
}

func createdAt(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// ingestedAt never precedes the creation time, even when the local clock lags reddit's.
func ingestedAt(now, created time.Time) time.Time {
	now = now.UTC()
	if now.Before(created) {
		return created
	}
	return now
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return optional(*s)
}
