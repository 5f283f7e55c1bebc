package users

import (
	"context"
	"errors"

	"songshare/internal/store"
)

// Store describes the persistence operations required by the user service.
type Store interface {
	CreateUser(ctx context.Context, username, password string) (int64, error)
	VerifyCredentials(ctx context.Context, username, password string) (int64, error)
}

// Service exposes registration and login checks.
type Service interface {
	Register(ctx context.Context, username, password string) (int64, error)
	Verify(ctx context.Context, username, password string) (int64, bool, error)
}

type service struct {
	store Store
}

// New wires a Service backed by the provided Store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) Register(ctx context.Context, username, password string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.store.CreateUser(ctx, username, password)
}

// Verify reports whether the credentials match a user. A wrong password, an
// unknown user and an unreachable store all come back as ok == false; only
// unexpected failures are returned as errors.
func (s *service) Verify(ctx context.Context, username, password string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	id, err := s.store.VerifyCredentials(ctx, username, password)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, store.ErrInvalidCredentials), errors.Is(err, store.ErrStoreUnavailable):
		return 0, false, nil
	default:
		return 0, false, err
	}
}
