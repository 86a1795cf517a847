package repos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kova98/feedgrep.ingest/data"
	"github.com/kova98/feedgrep.ingest/enums"
)

type CommentRepo struct {
	session *data.Session
	policy  enums.DuplicatePolicy
}

func NewCommentRepo(session *data.Session, policy enums.DuplicatePolicy) *CommentRepo {
	return &CommentRepo{session: session, policy: policy}
}

func (r *CommentRepo) InsertComment(ctx context.Context, comment data.Comment) (bool, error) {
	query := `
		INSERT INTO reddit_comments (
			comment_id, body, author,
			score, created_utc, subreddit,
			is_submitter, distinguished,
			parent_id, link_id, ingested_at)
		VALUES (
			:comment_id, :body, :author,
			:score, :created_utc, :subreddit,
			:is_submitter, :distinguished,
			:parent_id, :link_id, :ingested_at)`

	inserted := false
	err := r.session.Tx(ctx, func(tx *sqlx.Tx) error {
		if r.policy == enums.DuplicatePolicySkip {
			exists, err := rowExists(ctx, tx, "SELECT EXISTS (SELECT 1 FROM reddit_comments WHERE comment_id = $1)", comment.CommentID)
			if err != nil {
				return fmt.Errorf("check existing comment: %w", err)
			}
			if exists {
				return nil
			}
		}

		if _, err := tx.NamedExecContext(ctx, query, comment); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return inserted, nil
}

func (r *CommentRepo) GetCommentsByCommentID(ctx context.Context, commentID string) ([]data.Comment, error) {
	var comments []data.Comment
	query := `
		SELECT id, comment_id, body, author, score, created_utc, subreddit,
			is_submitter, distinguished, parent_id, link_id, ingested_at
		FROM reddit_comments
		WHERE comment_id = $1
		ORDER BY id ASC`

	err := r.session.DB().SelectContext(ctx, &comments, query, commentID)
	if err != nil {
		return nil, fmt.Errorf("get comments by comment id: %w", err)
	}

	return comments, nil
}

func (r *CommentRepo) CountComments(ctx context.Context) (int, error) {
	var count int
	if err := r.session.DB().GetContext(ctx, &count, "SELECT COUNT(*) FROM reddit_comments"); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}
