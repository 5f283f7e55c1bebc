package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CreateUser registers a new user and returns its id. Only the bcrypt hash of
// the password is stored.
func (s *Store) CreateUser(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, fmt.Errorf("%w: username and password are required", ErrInvalidUser)
	}

	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return 0, fmt.Errorf("%w: password is longer than 72 bytes", ErrInvalidUser)
	}
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	var userID int64
	err = db.QueryRowxContext(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id
	`, username, string(hash)).Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("insert user: %w", classify(err))
	}

	return userID, nil
}

type credentialRow struct {
	ID           int64  `db:"id"`
	PasswordHash string `db:"password_hash"`
}

// VerifyCredentials returns the id of the user matching username and password.
// An unknown user and a wrong password both yield ErrInvalidCredentials, and
// both run one bcrypt comparison.
func (s *Store) VerifyCredentials(ctx context.Context, username, password string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var row credentialRow
	err = db.GetContext(ctx, &row, `
		SELECT id, password_hash
		FROM users
		WHERE username = $1
	`, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return 0, ErrInvalidCredentials
		}
		return 0, fmt.Errorf("lookup user: %w", classify(err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return row.ID, nil
}
