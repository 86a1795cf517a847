package repos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kova98/feedgrep.ingest/data"
	"github.com/kova98/feedgrep.ingest/enums"
)

type PostRepo struct {
	session *data.Session
	policy  enums.DuplicatePolicy
}

func NewPostRepo(session *data.Session, policy enums.DuplicatePolicy) *PostRepo {
	return &PostRepo{session: session, policy: policy}
}

// InsertPost stores a post in its own transaction. It reports false when the duplicate
// policy skipped the post.
func (r *PostRepo) InsertPost(ctx context.Context, post data.Post) (bool, error) {
	query := `
		INSERT INTO reddit_posts (
			post_id, title, selftext,
			author, score, num_comments,
			created_utc, subreddit, flair,
			url, over_18, is_self, ingested_at)
		VALUES (
			:post_id, :title, :selftext,
			:author, :score, :num_comments,
			:created_utc, :subreddit, :flair,
			:url, :over_18, :is_self, :ingested_at)`

	inserted := false
	err := r.session.Tx(ctx, func(tx *sqlx.Tx) error {
		if r.policy == enums.DuplicatePolicySkip {
			exists, err := rowExists(ctx, tx, "SELECT EXISTS (SELECT 1 FROM reddit_posts WHERE post_id = $1)", post.PostID)
			if err != nil {
				return fmt.Errorf("check existing post: %w", err)
			}
			if exists {
				return nil
			}
		}

		if _, err := tx.NamedExecContext(ctx, query, post); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return inserted, nil
}

func (r *PostRepo) GetPostsByPostID(ctx context.Context, postID string) ([]data.Post, error) {
	var posts []data.Post
	query := `
		SELECT id, post_id, title, selftext, author, score, num_comments,
			created_utc, subreddit, flair, url, over_18, is_self, ingested_at
		FROM reddit_posts
		WHERE post_id = $1
		ORDER BY id ASC`

	err := r.session.DB().SelectContext(ctx, &posts, query, postID)
	if err != nil {
		return nil, fmt.Errorf("get posts by post id: %w", err)
	}

	return posts, nil
}

func (r *PostRepo) CountPosts(ctx context.Context) (int, error) {
	var count int
	if err := r.session.DB().GetContext(ctx, &count, "SELECT COUNT(*) FROM reddit_posts"); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

func rowExists(ctx context.Context, tx *sqlx.Tx, query string, id string) (bool, error) {
	var exists bool
	if err := tx.GetContext(ctx, &exists, query, id); err != nil {
		return false, err
	}
	return exists, nil
}
