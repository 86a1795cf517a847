package enums

type Feed string

const (
	FeedPosts    Feed = "posts"
	FeedComments Feed = "comments"
)
