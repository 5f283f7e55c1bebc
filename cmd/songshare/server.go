package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"songshare/internal/app/posts"
	"songshare/internal/app/users"
	"songshare/internal/config"
	"songshare/internal/database"
	"songshare/internal/metrics"
	"songshare/internal/middleware"
	"songshare/internal/session"
	"songshare/internal/store"
	"songshare/internal/web"
)

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	dataStore := store.New(db, store.WithSchema(database.EnsureSchema))
	if dataStore.Available() {
		if err := dataStore.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("store not ready, retrying on each request")
		}
	}

	if cfg.SeedDemo && dataStore.Available() {
		if err := seedDemoData(ctx, dataStore); err != nil {
			log.Error().Err(err).Msg("seed demo data")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	collector.SetStoreUp(dataStore.Available())

	limiter := middleware.NewRateLimiter(cfg.Security.AuthRatePerMinute, collector)
	defer limiter.Stop()

	handler := web.New(
		users.New(dataStore),
		posts.New(dataStore, posts.WithLogger(log.Logger), posts.WithRecorder(collector)),
		session.NewManager(cfg.Security.SecretKey, cfg.Security.SessionMaxAge, cfg.Security.SecureCookies),
		web.WithHealthCheck(dataStore.Ping),
		web.WithMetrics(collector, metrics.Handler(reg)),
		web.WithLoginRecorder(collector),
		web.WithAuthLimiter(limiter),
		web.WithSecureCookies(cfg.Security.SecureCookies),
	).Routes()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("store", dataStore.Available()).Msg("songshare listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectStore returns the database handle, or nil when DATABASE_URL is not
// set. A database that is down at start-up still yields a handle: the pool
// dials again on each request and the store prepares the schema once the
// database answers.
func connectStore(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("DATABASE_URL not set, running without a store")
		return nil, nil
	}

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.ConnectTimeout)
	if err == nil {
		return db, nil
	}

	log.Error().Err(err).Msg("database unreachable at start-up")
	return database.Connect(cfg.Database.Driver, cfg.Database.URL)
}
