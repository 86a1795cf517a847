package matchers

import (
	"strings"
)

// SubredditFilter limits events to a set of subreddits. An empty set allows everything.
type SubredditFilter struct {
	Subreddits []string
}

func NewSubredditFilter(subreddits []string) SubredditFilter {
	return SubredditFilter{Subreddits: subreddits}
}

func MatchesSubreddit(f SubredditFilter, subreddit string) bool {
	if len(f.Subreddits) == 0 {
		return true
	}

	subreddit = strings.TrimPrefix(subreddit, "r/")
	for _, included := range f.Subreddits {
		if strings.EqualFold(included, subreddit) {
			return true
		}
	}

	return false
}
