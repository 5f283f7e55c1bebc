package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestWithSchemaRetriesUntilPrepared(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	calls := 0
	s := New(db, WithSchema(func(ctx context.Context, db *sql.DB) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	}))

	if _, err := s.ListPostsByRecency(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable while the schema is missing, got %v", err)
	}

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM posts`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).AddRow(int64(1), "Road Trip"))
	}
	for i := 0; i < 2; i++ {
		posts, err := s.ListPostsByRecency(context.Background())
		if err != nil {
			t.Fatalf("ListPostsByRecency after recovery: %v", err)
		}
		if len(posts) != 1 {
			t.Fatalf("expected 1 post, got %d", len(posts))
		}
	}

	if calls != 2 {
		t.Fatalf("expected schema preparation to run twice, ran %d times", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithSchemaSkippedWithoutHandle(t *testing.T) {
	calls := 0
	s := New(nil, WithSchema(func(ctx context.Context, db *sql.DB) error {
		calls++
		return nil
	}))

	if err := s.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no preparation without a handle, ran %d times", calls)
	}
}
