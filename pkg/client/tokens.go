package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenStore holds the session credentials. A session is active while an
// access token is stored.
type TokenStore interface {
	Access() string
	Refresh() string
	Set(access, refresh string) error
	SetAccess(access string) error
	Clear() error
}

type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemoryStore) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemoryStore) Set(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = access, refresh
	return nil
}

func (s *MemoryStore) SetAccess(access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Set("", "")
}

type fileTokens struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// FileStore keeps tokens in a JSON file with 0600 permissions so a CLI
// session survives restarts.
type FileStore struct {
	path string
	mem  MemoryStore
}

// NewFileStore loads path if it exists.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tokens fileTokens
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	_ = s.mem.Set(tokens.AccessToken, tokens.RefreshToken)
	return s, nil
}

func (s *FileStore) Access() string  { return s.mem.Access() }
func (s *FileStore) Refresh() string { return s.mem.Refresh() }

func (s *FileStore) Set(access, refresh string) error {
	_ = s.mem.Set(access, refresh)
	return s.persist()
}

func (s *FileStore) SetAccess(access string) error {
	_ = s.mem.SetAccess(access)
	return s.persist()
}

func (s *FileStore) Clear() error {
	_ = s.mem.Clear()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func (s *FileStore) persist() error {
	s.mem.mu.RLock()
	raw, err := json.Marshal(fileTokens{AccessToken: s.mem.access, RefreshToken: s.mem.refresh})
	s.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
