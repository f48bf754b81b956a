package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/petredig/tidl/internal/shared"
	"golang.org/x/oauth2"
)

// TokenFileName is the token file's fixed name inside the tidl state directory.
const TokenFileName = "token.json"

// TokenStore persists the OAuth token as JSON with user-only permissions.
type TokenStore struct {
	path string
}

// NewTokenStore creates a store at the given path. An empty path resolves to
// token.json under the tidl state directory.
func NewTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		dir, err := shared.StateDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve token location: %w", err)
		}
		path = filepath.Join(dir, TokenFileName)
	}
	return &TokenStore{path: path}, nil
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// Save writes the token to disk.
func (s *TokenStore) Save(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}

// Load reads the stored token. A missing file means not authenticated.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, shared.ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	return &token, nil
}

// Clear removes the stored token.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
