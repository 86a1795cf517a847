package data

import "time"

// Post is a row of reddit_posts. Nullable columns are pointers.
type Post struct {
	ID          int64     `db:"id"`
	PostID      string    `db:"post_id"`
	Title       string    `db:"title"`
	Selftext    *string   `db:"selftext"`
	Author      *string   `db:"author"`
	Score       int       `db:"score"`
	NumComments int       `db:"num_comments"`
	CreatedUTC  time.Time `db:"created_utc"`
	Subreddit   string    `db:"subreddit"`
	Flair       *string   `db:"flair"`
	URL         string    `db:"url"`
	Over18      bool      `db:"over_18"`
	IsSelf      bool      `db:"is_self"`
	IngestedAt  time.Time `db:"ingested_at"`
}

// Comment is a row of reddit_comments.
type Comment struct {
	ID            int64     `db:"id"`
	CommentID     string    `db:"comment_id"`
	Body          string    `db:"body"`
	Author        *string   `db:"author"`
	Score         int       `db:"score"`
	CreatedUTC    time.Time `db:"created_utc"`
	Subreddit     string    `db:"subreddit"`
	IsSubmitter   bool      `db:"is_submitter"`
	Distinguished *string   `db:"distinguished"`
	ParentID      string    `db:"parent_id"`
	LinkID        string    `db:"link_id"`
	IngestedAt    time.Time `db:"ingested_at"`
}
