package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"songshare/internal/logging"
)

const (
	// CSRFCookieName holds the double-submit token.
	CSRFCookieName = "csrf_token"
	// CSRFFieldName is the form field carrying the token.
	CSRFFieldName = "csrf_token"
	// CSRFHeaderName may carry the token instead of the form field.
	CSRFHeaderName = "X-CSRF-Token"
)

type csrfKey struct{}

// SecurityHeaders sets conservative browser security headers.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// CSRF implements the double-submit cookie pattern. Safe requests get a token
// cookie and the token in their context; other requests must echo the cookie
// value in the csrf_token field or the X-CSRF-Token header.
func CSRF(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if c, err := r.Cookie(CSRFCookieName); err == nil && c.Value != "" {
				token = c.Value
			}

			if isSafeMethod(r.Method) {
				if token == "" {
					var err error
					token, err = generateToken()
					if err != nil {
						logging.FromContext(r.Context()).Error().Err(err).Msg("generate CSRF token")
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
						return
					}
					http.SetCookie(w, &http.Cookie{
						Name:     CSRFCookieName,
						Value:    token,
						Path:     "/",
						HttpOnly: true,
						Secure:   secure,
						SameSite: http.SameSiteLaxMode,
					})
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfKey{}, token)))
				return
			}

			submitted := r.Header.Get(CSRFHeaderName)
			if submitted == "" {
				submitted = r.PostFormValue(CSRFFieldName)
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(submitted)) != 1 {
				logging.FromContext(r.Context()).Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("CSRF validation failed")
				http.Error(w, "CSRF token validation failed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfKey{}, token)))
		})
	}
}

// CSRFToken returns the token to embed in forms rendered for this request.
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfKey{}).(string)
	return token
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
