// ABOUTME: MCP access token store mapping opaque tokens to user identities
// ABOUTME: Tokens are minted by the login flow and checked on MCP initialize

package mcp

import (
	"sync"

	"github.com/google/uuid"
)

// TokenStore manages MCP access tokens and the user each is bound to.
// Tokens are created when a user completes the login flow and let MCP
// clients connect via /mcp/<token> without a JWT.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> userID
}

// NewTokenStore creates a new token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]string),
	}
}

// CreateToken generates a new token bound to the given user.
// Returns the token string that should be included in MCP URLs.
func (s *TokenStore) CreateToken(userID string) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.tokens[token] = userID
	s.mu.Unlock()

	return token
}

// GetUserID returns the user bound to a token, or false if not found.
func (s *TokenStore) GetUserID(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.tokens[token]
	return userID, ok
}

// InvalidateToken removes a token from the store.
func (s *TokenStore) InvalidateToken(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// TokenCount returns the number of active tokens (for monitoring).
func (s *TokenStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
