// Package database opens the Postgres connection and keeps the schema current.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Drivers accepted by Open.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// Connect returns a handle for dsn without contacting the server. The pool
// dials on first use, so the handle outlives an outage at start-up.
func Connect(driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = DriverPgx
	}
	if driver != DriverPgx && driver != DriverPq {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Open establishes a database connection and retries until the instance responds
// or maxWait elapses.
func Open(ctx context.Context, driver, dsn string, maxWait time.Duration) (*sql.DB, error) {
	db, err := Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	const (
		pingTimeout    = 5 * time.Second
		initialBackoff = 500 * time.Millisecond
		maxBackoff     = 5 * time.Second
	)

	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	var lastErr error

	for {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = db.PingContext(pingCtx)
		cancel()

		if lastErr == nil {
			return db, nil
		}

		if ctx.Err() != nil || time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	_ = db.Close()
	return nil, fmt.Errorf("ping database: %w", lastErr)
}
