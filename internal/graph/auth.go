package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
)

// Scopes required for reading, annotating, and moving mailbox items.
var defaultScopes = []string{"offline_access", "Mail.ReadWrite"}

// TokenProvider holds the cloud authorization state: a cached token on disk,
// refreshed transparently through the oauth2 refresh flow. The authorization
// grant itself (the interactive consent) happens outside the engine; without
// a cached token the cloud backend is simply unavailable.
type TokenProvider struct {
	config    *oauth2.Config
	tokenPath string

	mu     sync.Mutex
	source oauth2.TokenSource
	last   *oauth2.Token
}

// NewTokenProvider creates a provider for the given app registration.
func NewTokenProvider(clientID, clientSecret, tenantID, tokenPath string) *TokenProvider {
	if tenantID == "" {
		tenantID = "common"
	}
	return &TokenProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       defaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenantID),
				TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
			},
		},
		tokenPath: tokenPath,
	}
}

// Authorized reports whether a previously completed authorization grant is
// cached on disk.
func (p *TokenProvider) Authorized() bool {
	_, err := p.tokenFromFile()
	return err == nil
}

// Token returns a valid access token, refreshing and re-persisting it when
// the cached one has expired.
func (p *TokenProvider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source == nil {
		cached, err := p.tokenFromFile()
		if err != nil {
			return nil, fmt.Errorf("no cached authorization: %w", err)
		}
		p.last = cached
		p.source = p.config.TokenSource(context.Background(), cached)
	}

	tok, err := p.source.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	// Persist refreshed tokens so the grant survives restarts.
	if p.last == nil || tok.AccessToken != p.last.AccessToken {
		if err := p.saveToken(tok); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}
		p.last = tok
	}

	return tok, nil
}

func (p *TokenProvider) tokenFromFile() (*oauth2.Token, error) {
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("failed to parse cached token: %w", err)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, fmt.Errorf("cached token is empty")
	}
	return tok, nil
}

func (p *TokenProvider) saveToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(p.tokenPath, data, 0600)
}
