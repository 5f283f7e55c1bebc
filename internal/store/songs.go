package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// MaxSongsPerPost is the number of song slots a post offers.
const MaxSongsPerPost = 7

var (
	// ErrTooManySongs is returned when a song set exceeds MaxSongsPerPost.
	ErrTooManySongs = errors.New("too many songs")
	// ErrInvalidSong is returned when a song lacks a title or an artist.
	ErrInvalidSong = errors.New("invalid song")
)

// Song is one entry of a post's song set. URL is empty when absent.
type Song struct {
	ID     int64  `db:"id"`
	PostID int64  `db:"post_id"`
	Title  string `db:"title"`
	Artist string `db:"artist"`
	URL    string `db:"url"`
}

// ReplaceSongs deletes every song of the post and inserts songs in order, all
// in one transaction. The post row is locked for the duration so concurrent
// replacements serialize.
func (s *Store) ReplaceSongs(ctx context.Context, postID int64, songs []Song) error {
	songs, err := normalizeSongs(songs)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.QueryRowxContext(ctx, `SELECT id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPostNotFound
		}
		if err != nil {
			return fmt.Errorf("lock post: %w", classify(err))
		}
		return replaceSongs(ctx, tx, postID, songs)
	})
}

// SongsForPost returns the songs of a post in insertion order.
func (s *Store) SongsForPost(ctx context.Context, postID int64) ([]Song, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	songs := []Song{}
	if err := db.SelectContext(ctx, &songs, `
		SELECT id, post_id, title, artist, COALESCE(url, '') AS url
		FROM songs
		WHERE post_id = $1
		ORDER BY id ASC
	`, postID); err != nil {
		return nil, fmt.Errorf("list songs: %w", classify(err))
	}
	return songs, nil
}

func replaceSongs(ctx context.Context, e sqlx.ExecerContext, postID int64, songs []Song) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM songs WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("clear songs: %w", classify(err))
	}
	return insertSongs(ctx, e, postID, songs)
}

func insertSongs(ctx context.Context, e sqlx.ExecerContext, postID int64, songs []Song) error {
	for _, song := range songs {
		if _, err := e.ExecContext(ctx, `
			INSERT INTO songs (post_id, title, artist, url)
			VALUES ($1, $2, $3, $4)
		`, postID, song.Title, song.Artist, nullIfEmpty(song.URL)); err != nil {
			return fmt.Errorf("insert song: %w", classify(err))
		}
	}
	return nil
}

// normalizeSongs trims every field and rejects sets that break the 0..7,
// title-and-artist-required rules.
func normalizeSongs(songs []Song) ([]Song, error) {
	if len(songs) > MaxSongsPerPost {
		return nil, fmt.Errorf("%w: %d songs, at most %d allowed", ErrTooManySongs, len(songs), MaxSongsPerPost)
	}

	out := make([]Song, 0, len(songs))
	for i, song := range songs {
		song.Title = strings.TrimSpace(song.Title)
		song.Artist = strings.TrimSpace(song.Artist)
		song.URL = strings.TrimSpace(song.URL)
		if song.Title == "" || song.Artist == "" {
			return nil, fmt.Errorf("%w: song %d needs a title and an artist", ErrInvalidSong, i+1)
		}
		out = append(out, song)
	}
	return out, nil
}
