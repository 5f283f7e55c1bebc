package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const initSchemaFile = "migrations/000001_init_schema.up.sql"

// EnsureSchema creates the users, posts and songs tables when they are missing
// and renames legacy credential columns. It is safe to run on every start.
// A nil handle means the store runs degraded and nothing is done.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		log.Warn().Msg("no database configured, skipping schema setup")
		return nil
	}

	ddl, err := migrationsFS.ReadFile(initSchemaFile)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	tx = nil

	log.Info().Msg("database schema ready")
	return nil
}

// NewMigrator builds a migrate instance over the embedded migrations using an
// open lib/pq or pgx handle.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies ("up") or reverts ("down") the embedded migrations.
// Being already at the target version is not an error.
func RunMigrations(db *sql.DB, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if db == nil {
		return errors.New("run migrations: no database handle")
	}

	m, err := NewMigrator(db)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations %s: %w", direction, err)
	}
	return nil
}
