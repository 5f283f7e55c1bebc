// Package session keeps the logged-in identity and pending flash messages in
// a signed cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"songshare/internal/authz"
	"songshare/internal/logging"
)

// CookieName is the name of the session cookie.
const CookieName = "songshare_session"

// Identity is the logged-in user of a request.
type Identity struct {
	UserID   int64
	Username string
}

// Viewer converts the identity into an authorization viewer.
func (i Identity) Viewer() authz.Viewer {
	if i.UserID == 0 {
		return authz.Anonymous()
	}
	return authz.User(i.UserID)
}

type state struct {
	identity Identity
	flashes  []string
}

func (s *state) empty() bool {
	return s.identity.UserID == 0 && len(s.flashes) == 0
}

type claims struct {
	Username string   `json:"un,omitempty"`
	Flashes  []string `json:"fl,omitempty"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Manager signs, reads and rewrites the session cookie.
type Manager struct {
	secret []byte
	maxAge time.Duration
	secure bool
	now    func() time.Time
}

// NewManager returns a Manager signing with secret. Cookies are marked Secure
// when secure is set.
func NewManager(secret string, maxAge time.Duration, secure bool) *Manager {
	return &Manager{secret: []byte(secret), maxAge: maxAge, secure: secure, now: time.Now}
}

// Middleware loads the session from the request cookie into the context.
// A missing, expired or tampered cookie yields an anonymous session.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := m.read(r)
		ctx := context.WithValue(r.Context(), contextKey{}, st)
		if st.identity.UserID != 0 {
			ctx = logging.WithUserID(ctx, st.identity.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the identity of the request, if logged in.
func FromContext(ctx context.Context) (Identity, bool) {
	st, ok := ctx.Value(contextKey{}).(*state)
	if !ok || st.identity.UserID == 0 {
		return Identity{}, false
	}
	return st.identity, true
}

// ViewerFromContext returns the authorization viewer of the request.
func ViewerFromContext(ctx context.Context) authz.Viewer {
	id, _ := FromContext(ctx)
	return id.Viewer()
}

// WithIdentity returns a context carrying identity, for callers that bypass
// the middleware.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, &state{identity: identity})
}

// Login records identity in the session.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, identity Identity) error {
	st := stateFrom(r)
	st.identity = identity
	return m.write(w, st)
}

// Logout forgets the identity but keeps pending flashes.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	st := stateFrom(r)
	st.identity = Identity{}
	return m.write(w, st)
}

// AddFlash queues a message for the next rendered page.
func (m *Manager) AddFlash(w http.ResponseWriter, r *http.Request, msg string) error {
	st := stateFrom(r)
	st.flashes = append(st.flashes, msg)
	return m.write(w, st)
}

// TakeFlashes returns the queued messages and clears them.
func (m *Manager) TakeFlashes(w http.ResponseWriter, r *http.Request) []string {
	st := stateFrom(r)
	if len(st.flashes) == 0 {
		return nil
	}
	flashes := st.flashes
	st.flashes = nil
	_ = m.write(w, st)
	return flashes
}

func stateFrom(r *http.Request) *state {
	if st, ok := r.Context().Value(contextKey{}).(*state); ok {
		return st
	}
	return &state{}
}

func (m *Manager) read(r *http.Request) *state {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return &state{}
	}
	st, err := m.decode(c.Value)
	if err != nil {
		logging.FromContext(r.Context()).Debug().Err(err).Msg("discarding invalid session cookie")
		return &state{}
	}
	return st
}

func (m *Manager) write(w http.ResponseWriter, st *state) error {
	if st.empty() {
		setCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	token, err := m.encode(st)
	if err != nil {
		return err
	}
	setCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) encode(st *state) (string, error) {
	now := m.now()
	c := claims{
		Username: st.identity.Username,
		Flashes:  st.flashes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}
	if st.identity.UserID != 0 {
		c.Subject = strconv.FormatInt(st.identity.UserID, 10)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

func (m *Manager) decode(raw string) (*state, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}

	st := &state{flashes: c.Flashes}
	if c.Subject != "" {
		id, err := strconv.ParseInt(c.Subject, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("parse session: bad subject")
		}
		st.identity = Identity{UserID: id, Username: c.Username}
	}
	return st, nil
}

// setCookie replaces any Set-Cookie header already queued for the same name.
func setCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	prefix := c.Name + "="
	existing := h.Values("Set-Cookie")
	h.Del("Set-Cookie")
	for _, v := range existing {
		if !strings.HasPrefix(v, prefix) {
			h.Add("Set-Cookie", v)
		}
	}
	http.SetCookie(w, c)
}
