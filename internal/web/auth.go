package web

import (
	"errors"
	"net/http"

	"songshare/internal/forms"
	"songshare/internal/session"
	"songshare/internal/store"
)

type credentialsPage struct {
	Username string
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", "Register", credentialsPage{}, nil)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, errs, err := forms.ParseCredentials(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Could not read the form.")
		return
	}
	page := credentialsPage{Username: creds.Username}
	if len(errs) > 0 {
		s.render(w, r, http.StatusBadRequest, "register.html", "Register", page, errs.Messages())
		return
	}

	if _, err := s.users.Register(r.Context(), creds.Username, creds.Password); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			s.render(w, r, http.StatusConflict, "register.html", "Register", page, []string{"Username already taken."})
			return
		}
		s.handleError(w, r, err)
		return
	}

	s.flash(w, r, "Registered. Please log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", "Log in", credentialsPage{}, nil)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, errs, err := forms.ParseCredentials(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Could not read the form.")
		return
	}
	page := credentialsPage{Username: creds.Username}
	if len(errs) > 0 {
		s.render(w, r, http.StatusBadRequest, "login.html", "Log in", page, errs.Messages())
		return
	}

	id, ok, err := s.users.Verify(r.Context(), creds.Username, creds.Password)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if !ok {
		if s.logins != nil {
			s.logins.LoginFailed()
		}
		s.render(w, r, http.StatusUnauthorized, "login.html", "Log in", page, []string{"Invalid username or password."})
		return
	}

	if err := s.sessions.Login(w, r, session.Identity{UserID: id, Username: creds.Username}); err != nil {
		s.handleError(w, r, err)
		return
	}
	s.flash(w, r, "Logged in.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(w, r); err != nil {
		s.handleError(w, r, err)
		return
	}
	s.flash(w, r, "Logged out.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
