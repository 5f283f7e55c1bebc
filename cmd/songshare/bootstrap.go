package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"songshare/internal/store"
)

const (
	demoUsername = "demo"
	demoPassword = "demo123"
)

// seedDemoData creates the demo user and, when no posts exist yet, one demo
// post. Running it again changes nothing.
func seedDemoData(ctx context.Context, dataStore *store.Store) error {
	if _, err := dataStore.CreateUser(ctx, demoUsername, demoPassword); err != nil && !errors.Is(err, store.ErrUserExists) {
		return fmt.Errorf("bootstrap demo user: %w", err)
	}

	userID, err := dataStore.VerifyCredentials(ctx, demoUsername, demoPassword)
	if errors.Is(err, store.ErrInvalidCredentials) {
		// The name is taken by a real account.
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup demo user: %w", err)
	}

	existing, err := dataStore.ListPostsByRecency(ctx)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	id, err := dataStore.CreatePostWithSongs(ctx, "Late Night Drive", userID, []store.Song{
		{Title: "Roygbiv", Artist: "Boards of Canada"},
		{Title: "Teardrop", Artist: "Massive Attack"},
		{Title: "Windowlicker", Artist: "Aphex Twin"},
		{Title: "Glory Box", Artist: "Portishead"},
		{Title: "Midnight City", Artist: "M83"},
	})
	if err != nil {
		return fmt.Errorf("bootstrap demo post: %w", err)
	}

	log.Info().Int64("post_id", id).Msg("seeded demo post")
	return nil
}
