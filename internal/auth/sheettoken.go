// Package auth supplies the bearer token sheetapi.Client authorizes its
// requests with: a cached oauth2.Token refreshed on expiry behind a
// mutex, one source per process.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource resolves the sheet API's bearer token, either a static
// configured value or a refreshed OAuth2 client-credentials token.
type TokenSource struct {
	static string

	oauthConfig *clientcredentials.Config
	mu          sync.RWMutex
	cached      *oauth2.Token
}

// NewStaticTokenSource wraps a pre-issued token (the SHEET_TOKEN
// setting) that never expires from this process's point of view.
func NewStaticTokenSource(token string) *TokenSource {
	return &TokenSource{static: token}
}

// NewOAuthTokenSource builds a client-credentials token source for
// deployments that rotate the sheet API token via OAuth2 instead of a
// long-lived static token.
func NewOAuthTokenSource(clientID, clientSecret, tokenURL string) *TokenSource {
	return &TokenSource{
		oauthConfig: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
	}
}

// GetToken returns a valid bearer token, refreshing it first if needed.
// Matches the func() (string, error) shape sheetapi.Client expects.
func (s *TokenSource) GetToken() (string, error) {
	if s.oauthConfig == nil {
		if s.static == "" {
			return "", fmt.Errorf("auth: no sheet token configured")
		}
		return s.static, nil
	}

	s.mu.RLock()
	token := s.cached
	s.mu.RUnlock()
	if token != nil && token.Valid() {
		return token.AccessToken, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.cached.Valid() {
		return s.cached.AccessToken, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fresh, err := s.oauthConfig.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: failed to obtain sheet API token: %w", err)
	}
	s.cached = fresh
	return fresh.AccessToken, nil
}
