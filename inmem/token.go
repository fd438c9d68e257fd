package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.adatlab.hu/idp/domain"
)

// TokenStore implements domain.TokenRepository in memory.
type TokenStore struct {
	mu      sync.Mutex
	access  map[string]*domain.AccessToken  // by value
	refresh map[string]*domain.RefreshToken // by value
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		access:  make(map[string]*domain.AccessToken),
		refresh: make(map[string]*domain.RefreshToken),
	}
}

func (s *TokenStore) StoreAccessToken(_ context.Context, token *domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyAccessToken(token)
	if existing, ok := s.access[token.Value]; ok {
		stored.ID = existing.ID
	} else if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.access[token.Value] = stored
	return nil
}

func (s *TokenStore) GetAccessToken(_ context.Context, value string) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.access[value]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyAccessToken(token), nil
}

func (s *TokenStore) GetGrantContext(ctx context.Context, value string) (*domain.GrantContext, error) {
	token, err := s.GetAccessToken(ctx, value)
	if err != nil {
		return nil, err
	}
	return grantContextOf(token), nil
}

func (s *TokenStore) FindAccessToken(_ context.Context, grant *domain.GrantContext) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopeKey := grant.ScopeKey()
	var winner *domain.AccessToken
	for _, token := range s.access {
		if token.UserName != grant.UserName || token.ClientID != grant.ClientID || token.Scope != scopeKey {
			continue
		}
		if winner == nil || token.ExpiresAt.Before(winner.ExpiresAt) {
			winner = token
		}
	}
	if winner == nil {
		return nil, domain.ErrNotFound
	}
	return copyAccessToken(winner), nil
}

func (s *TokenStore) RemoveAccessToken(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, value)
	return nil
}

func (s *TokenStore) RemoveAccessTokensByRefreshToken(_ context.Context, refreshValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeAccessByRefreshLocked(refreshValue)
	return nil
}

func (s *TokenStore) StoreRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyRefreshToken(token)
	if existing, ok := s.refresh[token.Value]; ok {
		stored.ID = existing.ID
	} else if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.refresh[token.Value] = stored
	return nil
}

func (s *TokenStore) GetRefreshToken(_ context.Context, value string) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refresh[value]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRefreshToken(token), nil
}

func (s *TokenStore) RemoveRefreshToken(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refresh, value)
	s.removeAccessByRefreshLocked(value)
	return nil
}

func (s *TokenStore) FindTokensByClient(_ context.Context, clientID string) ([]*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []*domain.AccessToken
	for _, token := range s.access {
		if token.ClientID == clientID {
			tokens = append(tokens, copyAccessToken(token))
		}
	}
	sortTokens(tokens)
	return tokens, nil
}

func (s *TokenStore) FindTokensByClientAndUser(_ context.Context, clientID, userName string) ([]*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []*domain.AccessToken
	for _, token := range s.access {
		if token.ClientID == clientID && token.UserName == userName {
			tokens = append(tokens, copyAccessToken(token))
		}
	}
	sortTokens(tokens)
	return tokens, nil
}

func (s *TokenStore) DeleteExpiredTokens(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for value, token := range s.access {
		if !token.ExpiresAt.After(now) {
			delete(s.access, value)
		}
	}
	return nil
}

func (s *TokenStore) removeAccessByRefreshLocked(refreshValue string) {
	for value, token := range s.access {
		if token.RefreshTokenValue == refreshValue {
			delete(s.access, value)
		}
	}
}

func grantContextOf(token *domain.AccessToken) *domain.GrantContext {
	grant := &domain.GrantContext{
		UserName:   token.UserName,
		ClientID:   token.ClientID,
		Serialized: token.GrantContext,
	}
	if token.Scope != "" {
		grant.Scopes = strings.Split(token.Scope, " ")
	}
	return grant
}

func sortTokens(tokens []*domain.AccessToken) {
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].Value < tokens[j].Value
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}

func copyAccessToken(token *domain.AccessToken) *domain.AccessToken {
	dup := *token
	dup.GrantContext = append([]byte(nil), token.GrantContext...)
	return &dup
}

func copyRefreshToken(token *domain.RefreshToken) *domain.RefreshToken {
	dup := *token
	dup.GrantContext = append([]byte(nil), token.GrantContext...)
	return &dup
}

var _ domain.TokenRepository = (*TokenStore)(nil)
