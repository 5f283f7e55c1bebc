package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"songshare/internal/app/posts"
	"songshare/internal/authz"
	"songshare/internal/middleware"
	"songshare/internal/session"
	"songshare/internal/store"
)

const testCSRF = "test-csrf-token"

type stubUserService struct {
	registerErr error
	verifyID    int64
	verifyOK    bool
	verifyErr   error

	lastUsername string
}

func (s *stubUserService) Register(ctx context.Context, username, password string) (int64, error) {
	s.lastUsername = username
	if s.registerErr != nil {
		return 0, s.registerErr
	}
	return 1, nil
}

func (s *stubUserService) Verify(ctx context.Context, username, password string) (int64, bool, error) {
	s.lastUsername = username
	return s.verifyID, s.verifyOK, s.verifyErr
}

type stubPostService struct {
	list    []store.PostSummary
	listErr error

	detail    posts.Detail
	detailErr error

	createID  int64
	createErr error

	forEditErr error
	updateErr  error
	deleteErr  error

	lastDraft  posts.Draft
	lastViewer authz.Viewer
	calls      []string
}

func (s *stubPostService) List(ctx context.Context) ([]store.PostSummary, error) {
	s.calls = append(s.calls, "list")
	return s.list, s.listErr
}

func (s *stubPostService) Detail(ctx context.Context, id int64, viewer authz.Viewer) (posts.Detail, error) {
	s.calls = append(s.calls, "detail")
	s.lastViewer = viewer
	return s.detail, s.detailErr
}

func (s *stubPostService) Create(ctx context.Context, viewer authz.Viewer, draft posts.Draft) (int64, error) {
	s.calls = append(s.calls, "create")
	s.lastViewer = viewer
	s.lastDraft = draft
	return s.createID, s.createErr
}

func (s *stubPostService) ForEdit(ctx context.Context, id int64, viewer authz.Viewer) (posts.Detail, error) {
	s.calls = append(s.calls, "for_edit")
	s.lastViewer = viewer
	return s.detail, s.forEditErr
}

func (s *stubPostService) Update(ctx context.Context, id int64, viewer authz.Viewer, draft posts.Draft) error {
	s.calls = append(s.calls, "update")
	s.lastViewer = viewer
	s.lastDraft = draft
	return s.updateErr
}

func (s *stubPostService) Delete(ctx context.Context, id int64, viewer authz.Viewer) error {
	s.calls = append(s.calls, "delete")
	s.lastViewer = viewer
	return s.deleteErr
}

type countingLogins struct{ failures int }

func (c *countingLogins) LoginFailed() { c.failures++ }

type harness struct {
	handler  http.Handler
	sessions *session.Manager
	users    *stubUserService
	posts    *stubPostService
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		sessions: session.NewManager("test-secret", time.Hour, false),
		users:    &stubUserService{},
		posts:    &stubPostService{},
	}
	h.handler = New(h.users, h.posts, h.sessions, opts...).Routes()
	return h
}

func (h *harness) loginCookie(t *testing.T, id int64, username string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	h.sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.sessions.Login(w, r, session.Identity{UserID: id, Username: username}); err != nil {
			t.Fatalf("Login error: %v", err)
		}
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatalf("no session cookie")
	return nil
}

func (h *harness) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) post(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	if _, ok := form["csrf_token"]; !ok {
		form.Set("csrf_token", testCSRF)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.1:1234"
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: testCSRF})
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestIndexListsPosts(t *testing.T) {
	h := newHarness(t)
	h.posts.list = []store.PostSummary{{ID: 2, DisplayName: "Road Trip"}, {ID: 1, DisplayName: "Rainy Day"}}

	rec := h.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `href="/detail/2"`) || !strings.Contains(body, "Rainy Day") {
		t.Fatalf("index missing posts: %s", body)
	}
	if strings.Index(body, "Road Trip") > strings.Index(body, "Rainy Day") {
		t.Fatalf("expected service order to be preserved")
	}
}

func TestIndexEmpty(t *testing.T) {
	h := newHarness(t)
	h.posts.list = []store.PostSummary{}

	rec := h.get("/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No posts yet.") {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDetail(t *testing.T) {
	h := newHarness(t)
	h.posts.detail = posts.Detail{
		Post: store.Post{ID: 1, DisplayName: "Road Trip", OwnerID: 7},
		Songs: []store.Song{
			{Title: "Song A", Artist: "Artist A"},
			{Title: "Song B", Artist: "Artist B", URL: "https://example.com/b"},
		},
	}

	rec := h.get("/detail/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Song B") || !strings.Contains(body, "https://example.com/b") {
		t.Fatalf("detail missing songs: %s", body)
	}
	if strings.Contains(body, "/edit/1") {
		t.Fatalf("edit link shown to viewer who cannot mutate")
	}
	if h.posts.lastViewer.LoggedIn {
		t.Fatalf("expected anonymous viewer")
	}

	h.posts.detail.CanMutate = true
	rec = h.get("/detail/1", h.loginCookie(t, 7, "alice"))
	if !strings.Contains(rec.Body.String(), "/edit/1") {
		t.Fatalf("edit link missing for owner")
	}
	if h.posts.lastViewer != authz.User(7) {
		t.Fatalf("expected viewer for user 7, got %+v", h.posts.lastViewer)
	}
}

func TestDetailNotFound(t *testing.T) {
	h := newHarness(t)
	h.posts.detailErr = store.ErrPostNotFound

	if rec := h.get("/detail/42"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := h.get("/detail/abc"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for bad id, got %d", rec.Code)
	}
}

func TestAuthRequiredRoutesRedirect(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/new", "/edit/1", "/logout"} {
		rec := h.get(path)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
			t.Fatalf("%s: expected redirect to /login, got %d %q", path, rec.Code, rec.Header().Get("Location"))
		}
	}

	rec := h.post("/delete/1", nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("delete: expected redirect to /login, got %d", rec.Code)
	}
	if len(h.posts.calls) != 0 {
		t.Fatalf("services must not be called, got %v", h.posts.calls)
	}
}

func TestCreatePost(t *testing.T) {
	h := newHarness(t)
	h.posts.createID = 5
	cookie := h.loginCookie(t, 7, "alice")

	rec := h.post("/new", url.Values{
		"display_name": {"Road Trip"},
		"song_title_1": {"Song A"},
		"artist_1":     {"Artist A"},
		"song_title_2": {"No artist"},
	}, cookie)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/detail/5" {
		t.Fatalf("expected redirect to /detail/5, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if h.posts.lastViewer != authz.User(7) {
		t.Fatalf("unexpected viewer %+v", h.posts.lastViewer)
	}
	if h.posts.lastDraft.DisplayName != "Road Trip" || len(h.posts.lastDraft.Songs) != 1 {
		t.Fatalf("unexpected draft %+v", h.posts.lastDraft)
	}
}

func TestCreatePostValidation(t *testing.T) {
	h := newHarness(t)
	cookie := h.loginCookie(t, 7, "alice")

	rec := h.post("/new", url.Values{"display_name": {"  "}, "song_title_1": {"Kept"}}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Display name is required.") || !strings.Contains(body, `value="Kept"`) {
		t.Fatalf("form should be re-shown with input and error: %s", body)
	}
	if len(h.posts.calls) != 0 {
		t.Fatalf("service should not be called, got %v", h.posts.calls)
	}
}

func TestCreatePostRequiresCSRF(t *testing.T) {
	h := newHarness(t)
	cookie := h.loginCookie(t, 7, "alice")

	rec := h.post("/new", url.Values{"display_name": {"Road Trip"}, "csrf_token": {"forged"}}, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(h.posts.calls) != 0 {
		t.Fatalf("service should not be called, got %v", h.posts.calls)
	}
}

func TestWriteErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(p *stubPostService)
		path   string
		status int
	}{
		{name: "edit forbidden", setup: func(p *stubPostService) { p.updateErr = store.ErrForbidden }, path: "/edit/1", status: http.StatusForbidden},
		{name: "edit missing", setup: func(p *stubPostService) { p.updateErr = store.ErrPostNotFound }, path: "/edit/99", status: http.StatusNotFound},
		{name: "delete forbidden", setup: func(p *stubPostService) { p.deleteErr = store.ErrForbidden }, path: "/delete/1", status: http.StatusForbidden},
		{name: "delete missing", setup: func(p *stubPostService) { p.deleteErr = store.ErrPostNotFound }, path: "/delete/99", status: http.StatusNotFound},
		{name: "create unavailable", setup: func(p *stubPostService) { p.createErr = store.ErrStoreUnavailable }, path: "/new", status: http.StatusServiceUnavailable},
		{name: "create failure", setup: func(p *stubPostService) { p.createErr = errors.New("boom") }, path: "/new", status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h.posts)
			rec := h.post(tc.path, url.Values{"display_name": {"Road Trip"}}, h.loginCookie(t, 8, "bob"))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestUpdateAndDeleteRedirect(t *testing.T) {
	h := newHarness(t)
	cookie := h.loginCookie(t, 7, "alice")

	rec := h.post("/edit/1", url.Values{"display_name": {"Road Trip"}}, cookie)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/detail/1" {
		t.Fatalf("expected redirect to /detail/1, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if len(h.posts.lastDraft.Songs) != 0 {
		t.Fatalf("expected empty song set, got %+v", h.posts.lastDraft.Songs)
	}

	rec = h.post("/delete/1", nil, cookie)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestInvalidEditChecksOwnershipFirst(t *testing.T) {
	h := newHarness(t)
	h.posts.forEditErr = store.ErrForbidden

	rec := h.post("/edit/1", url.Values{"display_name": {""}}, h.loginCookie(t, 8, "bob"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestEditFormPrefilled(t *testing.T) {
	h := newHarness(t)
	h.posts.detail = posts.Detail{
		Post:  store.Post{ID: 1, DisplayName: "Road Trip", OwnerID: 7},
		Songs: []store.Song{{Title: "Song A", Artist: "Artist A"}},
	}

	rec := h.get("/edit/1", h.loginCookie(t, 7, "alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`value="Road Trip"`, `value="Song A"`, `name="song_title_7"`, `action="/edit/1"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("edit form missing %q", want)
		}
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	rec := h.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d", rec.Code)
	}

	h.users.registerErr = store.ErrUserExists
	rec = h.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "Username already taken.") {
		t.Fatalf("expected 409 with message, got %d", rec.Code)
	}

	rec = h.post("/register", url.Values{"username": {""}, "password": {""}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterPasswordByteLimit(t *testing.T) {
	h := newHarness(t)

	rec := h.post("/register", url.Values{"username": {"alice"}, "password": {strings.Repeat("é", 72)}})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "at most 72 bytes") {
		t.Fatalf("expected 400 with byte limit message, got %d", rec.Code)
	}
	if h.users.lastUsername != "" {
		t.Fatalf("expected no registration attempt, got one for %q", h.users.lastUsername)
	}

	h.users.registerErr = fmt.Errorf("%w: password is longer than 72 bytes", store.ErrInvalidUser)
	rec = h.post("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for rejected input, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	logins := &countingLogins{}
	h := newHarness(t, WithLoginRecorder(logins))

	rec := h.post("/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid username or password.") {
		t.Fatalf("expected 401 with message, got %d", rec.Code)
	}
	if logins.failures != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", logins.failures)
	}

	h.users.verifyID, h.users.verifyOK = 7, true
	rec = h.post("/login", url.Values{"username": {"alice"}, "password": {"pw1"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d", rec.Code)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected session cookie")
	}

	h.posts.list = []store.PostSummary{}
	page := h.get("/", cookie)
	body := page.Body.String()
	if !strings.Contains(body, "alice") || !strings.Contains(body, "Logged in.") {
		t.Fatalf("expected username and flash on index: %s", body)
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(2, nil)
	defer limiter.Stop()
	h := newHarness(t, WithAuthLimiter(limiter))

	for i := 0; i < 2; i++ {
		if rec := h.post("/login", url.Values{"username": {"alice"}, "password": {"x"}}); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	if rec := h.post("/login", url.Values{"username": {"alice"}, "password": {"x"}}); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := h.get("/login"); rec.Code != http.StatusOK {
		t.Fatalf("login form should stay reachable, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, WithHealthCheck(func(ctx context.Context) error { return store.ErrStoreUnavailable }))

	rec := h.get("/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", resp.Status)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/logout", h.loginCookie(t, 7, "alice"))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d", rec.Code)
	}
}
