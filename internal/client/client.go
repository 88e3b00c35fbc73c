// Package client is a Go client for the task manager HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotAuthenticated is returned by guarded calls made without a session token.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a non-2xx response. Message is the server's message verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// User is the public view of an account.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Task is a to-do item as returned by the API.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Status      string     `json:"status"`
	OwnerID     string     `json:"ownerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// AuthResult is the response to a successful login or registration.
type AuthResult struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	User      User   `json:"user"`
}

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TaskInput is the body of POST /tasks. DueDate is RFC 3339 or YYYY-MM-DD.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left unchanged;
// ClearDueDate sends an explicit null.
type TaskPatch struct {
	Title        *string
	Description  *string
	Priority     *string
	Status       *string
	DueDate      *string
	ClearDueDate bool
}

func (p TaskPatch) MarshalJSON() ([]byte, error) {
	body := map[string]interface{}{}
	if p.Title != nil {
		body["title"] = *p.Title
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if p.Priority != nil {
		body["priority"] = *p.Priority
	}
	if p.Status != nil {
		body["status"] = *p.Status
	}
	if p.ClearDueDate {
		body["dueDate"] = nil
	} else if p.DueDate != nil {
		body["dueDate"] = *p.DueDate
	}
	return json.Marshal(body)
}

// Client calls the API on behalf of one Session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for session events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the API at baseURL. A nil session starts an
// in-memory one.
func New(baseURL string, session *Session, opts ...Option) *Client {
	if session == nil {
		session = &Session{}
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		session:    session,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var out AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/register", in, &out); err != nil {
		return nil, err
	}
	if err := c.storeToken(out.Token); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	if err := c.storeToken(out.Token); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout notifies the server and always clears the local session.
func (c *Client) Logout(ctx context.Context) error {
	if c.session.Token() != "" {
		if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil && !IsUnauthorized(err) {
			c.logger.Debug("logout request failed", slog.String("error", err.Error()))
		}
	}
	return c.session.Clear()
}

// ListTasks returns the caller's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.authed(ctx, http.MethodGet, "/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CreateTask creates a task owned by the session's user.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (*Task, error) {
	return c.taskCall(ctx, http.MethodPost, "/tasks", in)
}

// GetTask fetches one of the caller's tasks.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	return c.taskCall(ctx, http.MethodGet, taskPath(id), nil)
}

// UpdateTask applies patch to one of the caller's tasks.
func (c *Client) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	return c.taskCall(ctx, http.MethodPut, taskPath(id), patch)
}

// DeleteTask removes one of the caller's tasks.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.authed(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// ListUsers returns every registered user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.authed(ctx, http.MethodGet, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// IsAuthenticated reports whether the session holds a token. It does not
// check the token with the server.
func (c *Client) IsAuthenticated() bool {
	return c.session.Token() != ""
}

// CurrentUserID reads the subject from the token payload without verifying
// the signature. An undecodable token clears the session.
func (c *Client) CurrentUserID() (string, bool) {
	tok := c.session.Token()
	if tok == "" {
		return "", false
	}
	sub, err := tokenSubject(tok)
	if err != nil {
		c.logger.Debug("discarding unreadable session token", slog.String("error", err.Error()))
		c.clearSession()
		return "", false
	}
	return sub, true
}

func tokenSubject(tok string) (string, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("token has %d segments", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func (c *Client) taskCall(ctx context.Context, method, path string, body interface{}) (*Task, error) {
	var out struct {
		Task *Task `json:"task"`
	}
	if err := c.authed(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	if out.Task == nil {
		return nil, errors.New("response has no task")
	}
	return out.Task, nil
}

func (c *Client) authed(ctx context.Context, method, path string, body, out interface{}) error {
	if c.session.Token() == "" {
		return ErrNotAuthenticated
	}
	return c.do(ctx, method, path, body, out)
}

func (c *Client) storeToken(tok string) error {
	if tok == "" {
		return errors.New("response has no token")
	}
	if err := c.session.Set(tok); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (c *Client) clearSession() {
	if err := c.session.Clear(); err != nil {
		c.logger.Warn("clear session failed", slog.String("error", err.Error()))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.session.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized && !credentialPath(path) {
			c.clearSession()
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp, data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// credentialPath reports whether a 401 from path means rejected credentials
// rather than a stale session.
func credentialPath(path string) bool {
	return path == "/auth/login" || path == "/auth/register"
}

func errorMessage(resp *http.Response, data []byte) string {
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
			return body.Message
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}
