package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"songshare/internal/forms"
	"songshare/internal/session"
)

type formPage struct {
	Heading string
	Action  string
	Submit  string
	PostID  int64
	Form    forms.PostForm
}

func postID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	list, err := s.posts.List(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "index.html", "Song sets", list, nil)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "Post not found.")
		return
	}

	detail, err := s.posts.Detail(r.Context(), id, session.ViewerFromContext(r.Context()))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "detail.html", detail.Post.DisplayName, detail, nil)
}

func (s *Server) handleNewForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "form.html", "New post", formPage{
		Heading: "New post",
		Action:  "/new",
		Submit:  "Create",
	}, nil)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	form, err := forms.ParsePost(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Could not read the form.")
		return
	}

	page := formPage{Heading: "New post", Action: "/new", Submit: "Create", Form: form}
	draft, errs := form.Draft()
	if len(errs) > 0 {
		s.render(w, r, http.StatusBadRequest, "form.html", "New post", page, errs.Messages())
		return
	}

	id, err := s.posts.Create(r.Context(), session.ViewerFromContext(r.Context()), draft)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.flash(w, r, "Post created.")
	http.Redirect(w, r, fmt.Sprintf("/detail/%d", id), http.StatusSeeOther)
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "Post not found.")
		return
	}

	detail, err := s.posts.ForEdit(r.Context(), id, session.ViewerFromContext(r.Context()))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, "form.html", "Edit post", formPage{
		Heading: "Edit post",
		Action:  fmt.Sprintf("/edit/%d", id),
		Submit:  "Save",
		PostID:  id,
		Form:    forms.PostFormFrom(detail.Post, detail.Songs),
	}, nil)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "Post not found.")
		return
	}
	viewer := session.ViewerFromContext(r.Context())

	form, err := forms.ParsePost(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Could not read the form.")
		return
	}

	draft, errs := form.Draft()
	if len(errs) > 0 {
		// Only the owner gets to see their rejected input again.
		if _, err := s.posts.ForEdit(r.Context(), id, viewer); err != nil {
			s.handleError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "form.html", "Edit post", formPage{
			Heading: "Edit post",
			Action:  fmt.Sprintf("/edit/%d", id),
			Submit:  "Save",
			PostID:  id,
			Form:    form,
		}, errs.Messages())
		return
	}

	if err := s.posts.Update(r.Context(), id, viewer, draft); err != nil {
		s.handleError(w, r, err)
		return
	}

	s.flash(w, r, "Post updated.")
	http.Redirect(w, r, fmt.Sprintf("/detail/%d", id), http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "Post not found.")
		return
	}

	if err := s.posts.Delete(r.Context(), id, session.ViewerFromContext(r.Context())); err != nil {
		s.handleError(w, r, err)
		return
	}

	s.flash(w, r, "Post deleted.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
