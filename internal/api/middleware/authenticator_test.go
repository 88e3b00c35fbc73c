package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"
	"taskmanager/internal/token"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
}

type mockUserFinder struct {
	findFunc func(ctx context.Context, id string) (*model.User, error)
	calls    int
}

func (m *mockUserFinder) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	m.calls++
	return m.findFunc(ctx, id)
}

func newTokenService(t *testing.T, now func() time.Time) *token.Service {
	t.Helper()
	svc, err := token.NewService("test-secret", time.Hour, token.WithClock(now))
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return svc
}

func knownUser(id string) *mockUserFinder {
	return &mockUserFinder{findFunc: func(ctx context.Context, got string) (*model.User, error) {
		if got == id {
			return &model.User{ID: id, Name: "A", Email: "a@x.com"}, nil
		}
		return nil, store.ErrNotFound
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate_StateMachine(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	tokens := newTokenService(t, clock)

	good, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ghost, err := tokens.Issue("user-ghost")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, err := token.NewService("other-secret", time.Hour, token.WithClock(clock))
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	forged, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		header string
		reason string
	}{
		{"missing header", "", "missing_header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "bad_scheme"},
		{"bearer without token", "Bearer ", "bad_scheme"},
		{"bare token", good, "bad_scheme"},
		{"garbage token", "Bearer not-a-jwt", "malformed"},
		{"wrong signature", "Bearer " + forged, "signature"},
		{"deleted user", "Bearer " + ghost, "unknown_user"},
	}

	a := NewAuthenticator(tokens, knownUser("user-1"), discardLogger())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tc.header)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
			var authErr *AuthError
			if !errors.As(err, &authErr) || authErr.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %v", tc.reason, err)
			}
		})
	}

	user, err := a.Authenticate(context.Background(), "bearer "+good)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected principal %+v", user)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tokens := newTokenService(t, func() time.Time { return now })
	tok, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	now = now.Add(2 * time.Hour)

	finder := knownUser("user-1")
	a := NewAuthenticator(tokens, finder, discardLogger())
	_, err = a.Authenticate(context.Background(), "Bearer "+tok)
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Reason != "expired" {
		t.Fatalf("expected expired reason, got %v", err)
	}
	if finder.calls != 0 {
		t.Fatalf("store must not be queried for an invalid token")
	}
}

func TestAuthenticate_StoreErrorIsNotUnauthenticated(t *testing.T) {
	tokens := newTokenService(t, time.Now)
	tok, _ := tokens.Issue("user-1")
	finder := &mockUserFinder{findFunc: func(ctx context.Context, id string) (*model.User, error) {
		return nil, errors.New("connection refused")
	}}

	a := NewAuthenticator(tokens, finder, discardLogger())
	_, err := a.Authenticate(context.Background(), "Bearer "+tok)
	if err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected plain store error, got %v", err)
	}
}

func runMiddleware(t *testing.T, a *Authenticator, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	r := gin.New()
	r.GET("/tasks", a.Middleware(), func(c *gin.Context) {
		reached = true
		user, ok := Principal(c)
		if !ok {
			t.Fatalf("principal missing in handler")
		}
		c.JSON(http.StatusOK, gin.H{"id": user.ID})
	})
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, reached
}

func TestMiddleware_UniformUnauthorizedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tokens := newTokenService(t, func() time.Time { return now })
	expired, _ := tokens.Issue("user-1")
	ghost, _ := tokens.Issue("user-ghost")

	a := NewAuthenticator(tokens, knownUser("user-1"), discardLogger())

	var bodies []string
	for _, header := range []string{"", "Token abc", "Bearer junk", "Bearer " + ghost} {
		w, reached := runMiddleware(t, a, header)
		if reached {
			t.Fatalf("handler reached for header %q", header)
		}
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}

	now = now.Add(2 * time.Hour)
	w, reached := runMiddleware(t, a, "Bearer "+expired)
	if reached || w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401, got %d", w.Code)
	}
	bodies = append(bodies, w.Body.String())

	for _, b := range bodies[1:] {
		if b != bodies[0] {
			t.Fatalf("401 bodies differ: %q vs %q", bodies[0], b)
		}
	}
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(bodies[0]), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Authentication required" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMiddleware_SetsPrincipal(t *testing.T) {
	tokens := newTokenService(t, time.Now)
	tok, _ := tokens.Issue("user-1")
	a := NewAuthenticator(tokens, knownUser("user-1"), discardLogger())

	w, reached := runMiddleware(t, a, "Bearer "+tok)
	if !reached || w.Code != http.StatusOK {
		t.Fatalf("expected handler to run, got %d", w.Code)
	}
}

func TestMiddleware_StoreErrorIs500(t *testing.T) {
	tokens := newTokenService(t, time.Now)
	tok, _ := tokens.Issue("user-1")
	finder := &mockUserFinder{findFunc: func(ctx context.Context, id string) (*model.User, error) {
		return nil, errors.New("connection refused")
	}}
	a := NewAuthenticator(tokens, finder, discardLogger())

	w, reached := runMiddleware(t, a, "Bearer "+tok)
	if reached || w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
