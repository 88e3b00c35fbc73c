package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"taskmanager/internal/api"
	"taskmanager/internal/config"
	"taskmanager/internal/pkg/password"
	"taskmanager/internal/store"
	"taskmanager/internal/token"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	tokens, err := token.NewService("client-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	srv := api.New(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), api.Deps{
		Store:  st,
		Tokens: tokens,
		Hasher: password.NewBcryptHasher(bcrypt.MinCost),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts
}

func strPtr(s string) *string { return &s }

func TestClient_TaskLifecycle(t *testing.T) {
	ts := newAPIServer(t)
	ctx := context.Background()
	c := New(ts.URL, nil)

	if c.IsAuthenticated() {
		t.Fatalf("new client must start signed out")
	}
	if _, err := c.ListTasks(ctx); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	res, err := c.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatalf("register must set the session")
	}
	if res.ExpiresIn != int64(time.Hour/time.Second) {
		t.Fatalf("expected expiresIn 3600, got %d", res.ExpiresIn)
	}
	if id, ok := c.CurrentUserID(); !ok || id != res.User.ID {
		t.Fatalf("current user %q %v, want %q", id, ok, res.User.ID)
	}

	task, err := c.CreateTask(ctx, TaskInput{Title: "T1", Priority: "high", DueDate: "2030-05-01"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.OwnerID != res.User.ID || task.Priority != "high" || task.DueDate == nil {
		t.Fatalf("unexpected task %+v", task)
	}

	updated, err := c.UpdateTask(ctx, task.ID, TaskPatch{Status: strPtr("in-progress"), ClearDueDate: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "in-progress" || updated.DueDate != nil {
		t.Fatalf("unexpected update result %+v", updated)
	}

	got, err := c.GetTask(ctx, task.ID)
	if err != nil || got.ID != task.ID {
		t.Fatalf("get: %v %+v", err, got)
	}
	tasks, err := c.ListTasks(ctx)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list: %v %d", err, len(tasks))
	}
	users, err := c.ListUsers(ctx)
	if err != nil || len(users) != 1 || users[0].Email != "a@x.com" {
		t.Fatalf("users: %v %+v", err, users)
	}

	if err := c.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.GetTask(ctx, task.ID); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatalf("404 must not clear the session")
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c.IsAuthenticated() {
		t.Fatalf("logout must clear the session")
	}
}

func TestClient_ForeignTaskIsNotFound(t *testing.T) {
	ts := newAPIServer(t)
	ctx := context.Background()

	a := New(ts.URL, nil)
	if _, err := a.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register A: %v", err)
	}
	task, err := a.CreateTask(ctx, TaskInput{Title: "T1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b := New(ts.URL, nil)
	if _, err := b.Register(ctx, RegisterInput{Name: "B", Email: "b@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register B: %v", err)
	}
	_, err = b.GetTask(ctx, task.ID)
	if !IsNotFound(err) {
		t.Fatalf("expected 404, got %v", err)
	}
	if err.Error() != "Task not found" {
		t.Fatalf("server message must surface verbatim, got %q", err.Error())
	}
}

func TestClient_ClearsSessionOn401(t *testing.T) {
	ts := newAPIServer(t)
	ctx := context.Background()

	c := New(ts.URL, nil)
	if err := c.Session().Set("not-a-real-token"); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err := c.ListTasks(ctx)
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if c.IsAuthenticated() {
		t.Fatalf("401 must clear the session")
	}
}

func TestClient_LoginFailureIssuesNoToken(t *testing.T) {
	ts := newAPIServer(t)
	ctx := context.Background()

	c := New(ts.URL, nil)
	if _, err := c.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = c.Logout(ctx)

	if _, err := c.Login(ctx, "a@x.com", "wrong-password"); !IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if c.IsAuthenticated() {
		t.Fatalf("failed login must not set a session")
	}
	if _, err := c.Login(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatalf("login must set the session")
	}
}

func TestClient_FailedLoginKeepsExistingSession(t *testing.T) {
	ts := newAPIServer(t)
	ctx := context.Background()

	c := New(ts.URL, nil)
	res, err := c.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.Login(ctx, "a@x.com", "typo"); !IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if c.Session().Token() != res.Token {
		t.Fatalf("rejected credentials must not drop the current session")
	}
	if _, err := c.ListTasks(ctx); err != nil {
		t.Fatalf("session should still work: %v", err)
	}
}

func TestCurrentUserID_ClearsUnreadableToken(t *testing.T) {
	c := New("http://unused", nil)
	_ = c.Session().Set("a.%%%.c")
	if _, ok := c.CurrentUserID(); ok {
		t.Fatalf("expected decode failure")
	}
	if c.IsAuthenticated() {
		t.Fatalf("unreadable token must be cleared")
	}
}

func TestFileStore_PersistsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s, err := NewSession(FileStore{Path: path})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.Token() != "" {
		t.Fatalf("missing file must mean no session")
	}
	if err := s.Set("tok-1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	reloaded, err := NewSession(FileStore{Path: path})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Token() != "tok-1" {
		t.Fatalf("expected persisted token, got %q", reloaded.Token())
	}
	if err := reloaded.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := reloaded.Clear(); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
	again, _ := NewSession(FileStore{Path: path})
	if again.Token() != "" {
		t.Fatalf("cleared session came back: %q", again.Token())
	}
}

func TestAPIError_NonJSONBody(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer hs.Close()

	c := New(hs.URL, nil, WithHTTPClient(hs.Client()))
	_ = c.Session().Set("tok")
	_, err := c.ListTasks(context.Background())
	if err == nil || err.Error() != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("unexpected error %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatalf("non-401 errors must keep the session")
	}
}
