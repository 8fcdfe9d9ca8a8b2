// ABOUTME: MCP token store mapping opaque access tokens to principal names.
// ABOUTME: Tokens are minted out of band (CLI init) and checked on MCP requests.

package mcp

import (
	"sync"

	"github.com/google/uuid"
)

// TokenStore manages opaque MCP access tokens. Each token identifies a
// principal, typically one agent process or workstation.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> principal
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// CreateToken mints a new token for the given principal and returns it.
// The token is the credential; it is only ever shown once.
func (s *TokenStore) CreateToken(principal string) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.tokens[token] = principal
	s.mu.Unlock()

	return token
}

// AddToken registers a pre-existing token, e.g. one loaded from config.
func (s *TokenStore) AddToken(token, principal string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.tokens[token] = principal
	s.mu.Unlock()
}

// Principal returns the principal for a token and whether it exists.
func (s *TokenStore) Principal(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	principal, ok := s.tokens[token]
	return principal, ok
}

// InvalidateToken removes a token from the store.
func (s *TokenStore) InvalidateToken(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// TokenCount returns the number of active tokens.
func (s *TokenStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
