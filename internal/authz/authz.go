// Package authz decides who may change a post.
package authz

import "songshare/internal/store"

// Viewer is the identity a request acts as. The zero value is anonymous.
type Viewer struct {
	UserID   int64
	LoggedIn bool
}

// Anonymous returns a viewer that is not logged in.
func Anonymous() Viewer {
	return Viewer{}
}

// User returns a logged-in viewer.
func User(id int64) Viewer {
	return Viewer{UserID: id, LoggedIn: true}
}

// Outcome is the result of an authorization check.
type Outcome int

const (
	OK Outcome = iota
	Unauthenticated
	NotFound
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Unauthenticated:
		return "unauthenticated"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Err maps the outcome to the matching store sentinel, or nil for OK.
func (o Outcome) Err() error {
	switch o {
	case OK:
		return nil
	case Unauthenticated:
		return store.ErrUnauthorized
	case NotFound:
		return store.ErrPostNotFound
	default:
		return store.ErrForbidden
	}
}

// RequireAuthenticated passes only logged-in viewers.
func RequireAuthenticated(v Viewer) Outcome {
	if !v.LoggedIn {
		return Unauthenticated
	}
	return OK
}

// CanMutate reports whether v owns post.
func CanMutate(post store.Post, v Viewer) bool {
	return v.LoggedIn && v.UserID == post.OwnerID
}

// CheckMutation guards edit and delete. A nil post is reported as NotFound
// before anything about the viewer is checked.
func CheckMutation(post *store.Post, v Viewer) Outcome {
	if post == nil {
		return NotFound
	}
	if !v.LoggedIn {
		return Unauthenticated
	}
	if !CanMutate(*post, v) {
		return Forbidden
	}
	return OK
}
