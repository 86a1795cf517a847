package models

import (
	"encoding/json"
	"strings"
)

// RedditListing is the envelope of every /new, /comments and /about response.
type RedditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    *string       `json:"after"`
		Children []RedditThing `json:"children"`
	} `json:"data"`
}

// RedditThing keeps the payload raw so one malformed child does not fail the whole listing.
type RedditThing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// RedditThingRef identifies a child whose payload does not decode into its event type.
type RedditThingRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subreddit string `json:"subreddit"`
}

type RedditSubmission struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	CreatedUTC    float64 `json:"created_utc"`
	Subreddit     string  `json:"subreddit"`
	LinkFlairText *string `json:"link_flair_text"`
	URL           string  `json:"url"`
	Over18        bool    `json:"over_18"`
	IsSelf        bool    `json:"is_self"`
	Permalink     string  `json:"permalink"`

	// DecodeErr is set when the payload did not decode; only the RedditThingRef fields are filled.
	DecodeErr error `json:"-"`
}

func UndecodableSubmission(ref RedditThingRef, err error) RedditSubmission {
	return RedditSubmission{ID: ref.ID, Name: ref.Name, Subreddit: ref.Subreddit, DecodeErr: err}
}

func (s RedditSubmission) Fullname() string {
	return fullname(s.Name, "t3_", s.ID)
}

func (s RedditSubmission) SubredditName() string {
	return s.Subreddit
}

func (s RedditSubmission) DecodeError() error {
	return s.DecodeErr
}

type RedditComment struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Body          string  `json:"body"`
	Author        string  `json:"author"`
	Score         int     `json:"score"`
	CreatedUTC    float64 `json:"created_utc"`
	Subreddit     string  `json:"subreddit"`
	IsSubmitter   bool    `json:"is_submitter"`
	Distinguished *string `json:"distinguished"`
	ParentID      string  `json:"parent_id"`
	LinkID        string  `json:"link_id"`
	Permalink     string  `json:"permalink"`

	DecodeErr error `json:"-"`
}

func UndecodableComment(ref RedditThingRef, err error) RedditComment {
	return RedditComment{ID: ref.ID, Name: ref.Name, Subreddit: ref.Subreddit, DecodeErr: err}
}

func (c RedditComment) Fullname() string {
	return fullname(c.Name, "t1_", c.ID)
}

func (c RedditComment) SubredditName() string {
	return c.Subreddit
}

func (c RedditComment) DecodeError() error {
	return c.DecodeErr
}

func fullname(name, prefix, id string) string {
	if name != "" {
		return name
	}
	if id == "" || strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

type RedditUser struct {
	Name string `json:"name"`
}

type RedditSubredditAbout struct {
	Kind string `json:"kind"`
	Data struct {
		DisplayName   string `json:"display_name"`
		SubredditType string `json:"subreddit_type"`
		UserIsBanned  *bool  `json:"user_is_banned"`
		Quarantine    bool   `json:"quarantine"`
		Subscribers   int    `json:"subscribers"`
	} `json:"data"`
}
