package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"songshare/internal/logging"
	"songshare/internal/middleware"
	"songshare/internal/session"
	"songshare/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = parsePages("index.html", "detail.html", "form.html", "login.html", "register.html", "error.html")

func parsePages(names ...string) map[string]*template.Template {
	funcs := template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		out[name] = template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return out
}

// view is the data every page template receives.
type view struct {
	Title     string
	Identity  session.Identity
	LoggedIn  bool
	Flashes   []string
	Errors    []string
	CSRFToken string
	Data      interface{}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data interface{}, errs []string) {
	tmpl, ok := pages[page]
	if !ok {
		logging.FromContext(r.Context()).Error().Str("page", page).Msg("unknown template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	identity, loggedIn := session.FromContext(r.Context())
	v := view{
		Title:     title,
		Identity:  identity,
		LoggedIn:  loggedIn,
		Flashes:   s.sessions.TakeFlashes(w, r),
		Errors:    errs,
		CSRFToken: middleware.CSRFToken(r.Context()),
		Data:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", v); err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Str("page", page).Msg("render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.render(w, r, status, "error.html", http.StatusText(status), message, nil)
}

func (s *Server) flash(w http.ResponseWriter, r *http.Request, msg string) {
	if err := s.sessions.AddFlash(w, r, msg); err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("store flash message")
	}
}

// handleError maps service errors onto responses.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrUnauthorized):
		s.flash(w, r, "Please log in.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	case errors.Is(err, store.ErrPostNotFound):
		s.renderError(w, r, http.StatusNotFound, "Post not found.")
	case errors.Is(err, store.ErrForbidden):
		s.renderError(w, r, http.StatusForbidden, "You can only change your own posts.")
	case errors.Is(err, store.ErrInvalidPost), errors.Is(err, store.ErrTooManySongs), errors.Is(err, store.ErrInvalidSong),
		errors.Is(err, store.ErrInvalidUser):
		s.renderError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrStoreUnavailable):
		logging.FromContext(r.Context()).Warn().Err(err).Msg("store unavailable")
		s.renderError(w, r, http.StatusServiceUnavailable, "The database is unavailable. Please try again later.")
	default:
		logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.renderError(w, r, http.StatusInternalServerError, "Something went wrong.")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
