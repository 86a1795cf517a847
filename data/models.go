package data

// Table names are shared with the archival job and the dashboard.
const (
	PostsTable    = "reddit_posts"
	CommentsTable = "reddit_comments"
)
