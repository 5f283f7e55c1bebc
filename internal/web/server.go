// Package web serves the HTML pages of the application.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"songshare/internal/app/posts"
	"songshare/internal/authz"
	"songshare/internal/middleware"
	"songshare/internal/session"
	"songshare/internal/store"
)

// UserService captures the account operations needed by the handlers.
type UserService interface {
	Register(ctx context.Context, username, password string) (int64, error)
	Verify(ctx context.Context, username, password string) (int64, bool, error)
}

// PostService captures the post workflows needed by the handlers.
type PostService interface {
	List(ctx context.Context) ([]store.PostSummary, error)
	Detail(ctx context.Context, id int64, viewer authz.Viewer) (posts.Detail, error)
	Create(ctx context.Context, viewer authz.Viewer, draft posts.Draft) (int64, error)
	ForEdit(ctx context.Context, id int64, viewer authz.Viewer) (posts.Detail, error)
	Update(ctx context.Context, id int64, viewer authz.Viewer, draft posts.Draft) error
	Delete(ctx context.Context, id int64, viewer authz.Viewer) error
}

// LoginRecorder is told about rejected logins.
type LoginRecorder interface {
	LoginFailed()
}

// Option customizes the server.
type Option func(*Server)

// WithHealthCheck sets the probe behind /healthz. A failing probe reports the
// service as degraded.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// WithMetrics instruments every request and serves handler on /metrics.
func WithMetrics(obs middleware.RequestObserver, handler http.Handler) Option {
	return func(s *Server) {
		s.observer = obs
		s.metrics = handler
	}
}

// WithLoginRecorder counts failed logins.
func WithLoginRecorder(r LoginRecorder) Option {
	return func(s *Server) { s.logins = r }
}

// WithAuthLimiter throttles submissions to /login and /register.
func WithAuthLimiter(l *middleware.RateLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithSecureCookies marks the CSRF cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secureCookies = secure }
}

// Server wires HTTP handlers to the underlying services.
type Server struct {
	users    UserService
	posts    PostService
	sessions *session.Manager

	health        func(ctx context.Context) error
	observer      middleware.RequestObserver
	metrics       http.Handler
	logins        LoginRecorder
	limiter       *middleware.RateLimiter
	secureCookies bool
}

// New configures a Server.
func New(users UserService, posts PostService, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{users: users, posts: posts, sessions: sessions}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes exposes the HTTP handlers.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogging(), middleware.Recovery(), middleware.SecurityHeaders())
	if s.observer != nil {
		r.Use(middleware.Metrics(s.observer))
	}

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware, middleware.CSRF(s.secureCookies))

		r.Get("/", s.handleIndex)
		r.Get("/detail/{id}", s.handleDetail)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Get("/register", s.handleRegisterForm)
			r.Post("/register", s.handleRegister)
			r.Get("/login", s.handleLoginForm)
			r.Post("/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireLogin)
			r.Get("/new", s.handleNewForm)
			r.Post("/new", s.handleCreate)
			r.Get("/edit/{id}", s.handleEditForm)
			r.Post("/edit/{id}", s.handleUpdate)
			r.Post("/delete/{id}", s.handleDelete)
			r.Get("/logout", s.handleLogout)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusNotFound, "Page not found.")
	})

	return r
}

// requireLogin sends anonymous visitors to the login page.
func (s *Server) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			s.flash(w, r, "Please log in.")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status})
}
