package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Post is a song-set entry owned by one user. The display name lives in the
// posts.username column.
type Post struct {
	ID          int64     `db:"id"`
	DisplayName string    `db:"display_name"`
	OwnerID     int64     `db:"owner_user_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// PostSummary is the index-page projection of a post.
type PostSummary struct {
	ID          int64  `db:"id"`
	DisplayName string `db:"display_name"`
}

// CreatePost inserts a post owned by ownerID and returns its id.
func (s *Store) CreatePost(ctx context.Context, displayName string, ownerID int64) (int64, error) {
	displayName, err := validateDisplayName(displayName)
	if err != nil {
		return 0, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	return insertPost(ctx, db, displayName, ownerID)
}

// CreatePostWithSongs inserts a post and its songs in one transaction.
func (s *Store) CreatePostWithSongs(ctx context.Context, displayName string, ownerID int64, songs []Song) (int64, error) {
	displayName, err := validateDisplayName(displayName)
	if err != nil {
		return 0, err
	}
	songs, err = normalizeSongs(songs)
	if err != nil {
		return 0, err
	}

	var postID int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := insertPost(ctx, tx, displayName, ownerID)
		if err != nil {
			return err
		}
		if err := insertSongs(ctx, tx, id, songs); err != nil {
			return err
		}
		postID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return postID, nil
}

// PostByID returns a single post.
func (s *Store) PostByID(ctx context.Context, id int64) (Post, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return Post{}, err
	}

	var post Post
	err = db.GetContext(ctx, &post, `
		SELECT id, username AS display_name, COALESCE(user_id, 0) AS owner_user_id, created_at
		FROM posts
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrPostNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("get post: %w", classify(err))
	}
	return post, nil
}

// ListPostsByRecency returns every post, newest first.
func (s *Store) ListPostsByRecency(ctx context.Context) ([]PostSummary, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	posts := []PostSummary{}
	if err := db.SelectContext(ctx, &posts, `
		SELECT id, username AS display_name
		FROM posts
		ORDER BY created_at DESC, id DESC
	`); err != nil {
		return nil, fmt.Errorf("list posts: %w", classify(err))
	}
	return posts, nil
}

// UpdateDisplayName overwrites the display name of a post. Ownership must
// already have been checked by the caller.
func (s *Store) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	displayName, err := validateDisplayName(displayName)
	if err != nil {
		return err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return updateDisplayName(ctx, db, id, displayName)
}

// UpdatePostWithSongs renames a post and replaces its whole song set in one
// transaction.
func (s *Store) UpdatePostWithSongs(ctx context.Context, id int64, displayName string, songs []Song) error {
	displayName, err := validateDisplayName(displayName)
	if err != nil {
		return err
	}
	songs, err = normalizeSongs(songs)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateDisplayName(ctx, tx, id, displayName); err != nil {
			return err
		}
		return replaceSongs(ctx, tx, id, songs)
	})
}

// DeletePost removes a post. Its songs are removed by the ON DELETE CASCADE
// constraint on songs.post_id.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func insertPost(ctx context.Context, q sqlx.QueryerContext, displayName string, ownerID int64) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, `
		INSERT INTO posts (username, user_id)
		VALUES ($1, $2)
		RETURNING id
	`, displayName, ownerID).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert post: %w", classify(err))
	}
	return id, nil
}

func updateDisplayName(ctx context.Context, e sqlx.ExecerContext, id int64, displayName string) error {
	res, err := e.ExecContext(ctx, `UPDATE posts SET username = $1 WHERE id = $2`, displayName, id)
	if err != nil {
		return fmt.Errorf("update post: %w", classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func validateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: display name is required", ErrInvalidPost)
	}
	return name, nil
}
