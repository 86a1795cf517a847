package sources

import (
	"errors"
	"fmt"

	"github.com/kova98/feedgrep.ingest/enums"
)

// ErrSubscriptionClosed is returned by Next once the subscription has been closed.
var ErrSubscriptionClosed = errors.New("subscription closed")

// AuthenticationError means the credentials were rejected or a subreddit is not readable.
type AuthenticationError struct {
	Subreddit string
	Err       error
}

func (e *AuthenticationError) Error() string {
	if e.Subreddit == "" {
		return fmt.Sprintf("reddit authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("reddit authentication failed: r/%s: %v", e.Subreddit, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SubscriptionFailure means a feed can no longer be read. The subscription is unusable.
type SubscriptionFailure struct {
	Feed     enums.Feed
	Failures int
	Err      error
}

func (e *SubscriptionFailure) Error() string {
	return fmt.Sprintf("%s subscription failed after %d attempt(s): %v", e.Feed, e.Failures, e.Err)
}

func (e *SubscriptionFailure) Unwrap() error {
	return e.Err
}

// StatusError is a non-200 response from reddit.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reddit returned status %d: %s", e.Code, e.Body)
}

func truncate(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
