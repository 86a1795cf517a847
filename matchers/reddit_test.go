package matchers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesSubreddit_EmptyFilter(t *testing.T) {
	assert.True(t, MatchesSubreddit(SubredditFilter{}, "anything"))
}

func TestMatchesSubreddit_IncludeList(t *testing.T) {
	filter := NewSubredditFilter([]string{"news", "gaming"})

	assert.True(t, MatchesSubreddit(filter, "news"))
	assert.True(t, MatchesSubreddit(filter, "gaming"))
	assert.False(t, MatchesSubreddit(filter, "funny"))
	assert.False(t, MatchesSubreddit(filter, ""))
}

func TestMatchesSubreddit_CaseInsensitive(t *testing.T) {
	filter := NewSubredditFilter([]string{"Showerthoughts"})

	assert.True(t, MatchesSubreddit(filter, "showerthoughts"))
	assert.True(t, MatchesSubreddit(filter, "SHOWERTHOUGHTS"))
}

func TestMatchesSubreddit_PrefixedName(t *testing.T) {
	filter := NewSubredditFilter([]string{"news"})

	assert.True(t, MatchesSubreddit(filter, "r/news"))
}
