// Package forms parses and validates the HTML form submissions.
package forms

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"songshare/internal/app/posts"
	"songshare/internal/store"
)

// Slots is the number of song rows the post form offers.
const Slots = store.MaxSongsPerPost

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

var (
	validate = newValidator()
	strip    = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		return f.Name
	})
	mustRegister(v, "nomarkup", func(fl validator.FieldLevel) bool {
		return !hasMarkup(fl.Field().String())
	})
	mustRegister(v, "bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPasswordBytes
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// hasMarkup reports whether value holds anything the HTML tokenizer reads as
// a tag or comment. Entities and bare angle brackets such as "5 < 6" pass.
func hasMarkup(value string) bool {
	return html.UnescapeString(strip.Sanitize(value)) != html.UnescapeString(value)
}

// Errors maps a form field name to a user-facing message.
type Errors map[string]string

// Messages returns the messages ordered by field name.
func (e Errors) Messages() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, e[k])
	}
	return out
}

// SongInput is one song row of the post form.
type SongInput struct {
	Title  string `validate:"max=200,nomarkup" label:"Song title"`
	Artist string `validate:"max=200,nomarkup" label:"Artist"`
	URL    string `validate:"omitempty,max=2048,http_url" label:"Link"`
}

func (s SongInput) filled() bool {
	return s.Title != "" && s.Artist != ""
}

// PostForm holds the submitted post form, including rows that will not
// become songs, so it can be shown again.
type PostForm struct {
	DisplayName string `validate:"required,max=100,nomarkup" label:"Display name"`
	Songs       [Slots]SongInput
}

// ParsePost reads display_name and the song_title_N, artist_N and url_N
// fields for N in 1..Slots. Values are trimmed and otherwise kept as typed;
// Draft rejects markup.
func ParsePost(r *http.Request) (PostForm, error) {
	if err := r.ParseForm(); err != nil {
		return PostForm{}, fmt.Errorf("parse form: %w", err)
	}

	form := PostForm{DisplayName: clean(r.PostFormValue("display_name"))}
	for i := range form.Songs {
		n := i + 1
		form.Songs[i] = SongInput{
			Title:  clean(r.PostFormValue(fmt.Sprintf("song_title_%d", n))),
			Artist: clean(r.PostFormValue(fmt.Sprintf("artist_%d", n))),
			URL:    clean(r.PostFormValue(fmt.Sprintf("url_%d", n))),
		}
	}
	return form, nil
}

// Draft validates the form and returns the post to store. A row becomes a
// song only when both its title and artist are filled in; other rows are
// dropped.
func (f PostForm) Draft() (posts.Draft, Errors) {
	errs := Errors{}
	collect(errs, "display_name", validate.StructPartial(f, "DisplayName"))

	draft := posts.Draft{DisplayName: f.DisplayName, Songs: []store.Song{}}
	for i, row := range f.Songs {
		if !row.filled() {
			continue
		}
		n := i + 1
		if err := validate.Struct(row); err != nil {
			collectSlot(errs, n, err)
			continue
		}
		draft.Songs = append(draft.Songs, store.Song{Title: row.Title, Artist: row.Artist, URL: row.URL})
	}

	if len(errs) > 0 {
		return posts.Draft{}, errs
	}
	return draft, nil
}

// PostFormFrom prefills the form with a stored post for editing.
func PostFormFrom(post store.Post, songs []store.Song) PostForm {
	form := PostForm{DisplayName: post.DisplayName}
	for i, s := range songs {
		if i >= Slots {
			break
		}
		form.Songs[i] = SongInput{Title: s.Title, Artist: s.Artist, URL: s.URL}
	}
	return form
}

// Credentials is a login or registration submission.
type Credentials struct {
	Username string `validate:"required,max=64,nomarkup" label:"Username"`
	Password string `validate:"required,bcryptmax" label:"Password"`
}

// ParseCredentials reads username and password. The username is trimmed; the
// password is taken verbatim.
func ParseCredentials(r *http.Request) (Credentials, Errors, error) {
	if err := r.ParseForm(); err != nil {
		return Credentials{}, nil, fmt.Errorf("parse form: %w", err)
	}

	creds := Credentials{
		Username: clean(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}

	errs := Errors{}
	if err := validate.Struct(creds); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Credentials{}, nil, err
		}
		for _, fe := range verrs {
			errs[strings.ToLower(fe.StructField())] = message(fe)
		}
	}
	if len(errs) > 0 {
		return creds, errs, nil
	}
	return creds, nil, nil
}

func clean(value string) string {
	return strings.TrimSpace(value)
}

func collect(errs Errors, field string, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err != nil {
			errs[field] = err.Error()
		}
		return
	}
	for _, fe := range verrs {
		errs[field] = message(fe)
	}
}

func collectSlot(errs Errors, n int, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs[fmt.Sprintf("song_%d", n)] = err.Error()
		return
	}
	for _, fe := range verrs {
		var key string
		switch fe.StructField() {
		case "Title":
			key = fmt.Sprintf("song_title_%d", n)
		case "Artist":
			key = fmt.Sprintf("artist_%d", n)
		default:
			key = fmt.Sprintf("url_%d", n)
		}
		errs[key] = fmt.Sprintf("Song %d: %s", n, message(fe))
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", fe.Field(), fe.Param())
	case "http_url":
		return fmt.Sprintf("%s must be an http or https URL.", fe.Field())
	case "nomarkup":
		return fmt.Sprintf("%s must not contain HTML tags.", fe.Field())
	case "bcryptmax":
		return fmt.Sprintf("%s must be at most %d bytes.", fe.Field(), MaxPasswordBytes)
	default:
		return fmt.Sprintf("%s is invalid.", fe.Field())
	}
}
