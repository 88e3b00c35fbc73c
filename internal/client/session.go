package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenStore persists the session token between process runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// Session holds the bearer token attached to outbound requests.
// It is set after a successful login or registration and cleared on logout
// or when the server answers 401.
type Session struct {
	mu    sync.RWMutex
	token string
	store TokenStore
}

// NewSession creates a session backed by store. A nil store keeps the token
// in memory only.
func NewSession(store TokenStore) (*Session, error) {
	s := &Session{store: store}
	if store == nil {
		return s, nil
	}
	token, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.token = token
	return s, nil
}

// Token returns the current token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the token.
func (s *Session) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if s.store != nil {
		return s.store.Save(token)
	}
	return nil
}

// Clear drops the token.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	if s.store != nil {
		return s.store.Clear()
	}
	return nil
}

// FileStore keeps the token in a JSON file: {"token": "..."}.
type FileStore struct {
	Path string
}

type sessionFile struct {
	Token string `json:"token"`
}

// DefaultSessionPath returns ~/.taskmanager/session.json.
func DefaultSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".taskmanager", "session.json"), nil
}

func (f FileStore) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return "", fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return sf.Token, nil
}

func (f FileStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(sessionFile{Token: token})
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o600)
}

func (f FileStore) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
