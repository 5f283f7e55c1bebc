package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrUserExists signals the username is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUser wraps rejected registration input.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidCredentials indicates a login failure.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUnauthorized indicates the caller is not logged in.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller is logged in but does not own the post.
	ErrForbidden = errors.New("forbidden")
	// ErrPostNotFound is returned when a post id does not resolve.
	ErrPostNotFound = errors.New("post not found")
	// ErrInvalidPost wraps validation failures on post fields.
	ErrInvalidPost = errors.New("invalid post")
	// ErrStoreUnavailable marks a missing or unreachable database.
	ErrStoreUnavailable = errors.New("store unavailable")

	dummyPasswordHash = []byte("$2a$10$CwTycUXWue0Thq9StjUM0uJ8n4VWeNseyX2fA9DE.D7su7J6iYGTC")
)

const uniqueViolation = "23505"

// Store provides persistence backed by Postgres. A Store created without a
// database handle runs in degraded mode and fails every call with
// ErrStoreUnavailable.
type Store struct {
	db *sqlx.DB

	prepare  func(ctx context.Context, db *sql.DB) error
	mu       sync.Mutex
	prepared bool
}

// Option customizes a Store.
type Option func(*Store)

// WithSchema runs prepare before the first statement that reaches the
// database. A failed run is retried on the next call, and until one succeeds
// every call fails with ErrStoreUnavailable.
func WithSchema(prepare func(ctx context.Context, db *sql.DB) error) Option {
	return func(s *Store) { s.prepare = prepare }
}

// New sets up a Store using the provided database handle, which may be nil.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{}
	if db != nil {
		s.db = sqlx.NewDb(db, "pgx")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a database handle is configured.
func (s *Store) Available() bool {
	return s.db != nil
}

// Ping checks that the database answers and its schema is in place.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", classify(err))
	}
	return nil
}

func (s *Store) conn(ctx context.Context) (*sqlx.DB, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if err := s.ensurePrepared(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *Store) ensurePrepared(ctx context.Context) error {
	if s.prepare == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return nil
	}
	if err := s.prepare(ctx, s.db.DB); err != nil {
		return fmt.Errorf("%w: prepare schema: %w", ErrStoreUnavailable, err)
	}
	s.prepared = true
	return nil
}

// withTx runs fn in a transaction that commits when fn returns nil and rolls
// back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	tx = nil

	return nil
}

// classify tags connectivity failures with ErrStoreUnavailable so callers can
// tell an unreachable database apart from a failed statement.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	var (
		connectErr *pgconn.ConnectError
		netErr     net.Error
	)
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &connectErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
