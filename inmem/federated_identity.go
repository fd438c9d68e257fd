// Package inmem provides in-memory implementations of the domain stores, used
// by the embedded (no-Mongo) deployment mode and as the unit-test substrate.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.adatlab.hu/idp/domain"
)

// FederatedIdentityStore implements domain.FederatedIdentityRepository with
// maps guarded by a mutex. Both unique keys of the collection are enforced.
type FederatedIdentityStore struct {
	mu             sync.Mutex
	byProviderUser map[[2]string]*domain.FederatedIdentity // (provider, provider_user_id)
	byProviderName map[[2]string]*domain.FederatedIdentity // (provider, user_name)
}

func NewFederatedIdentityStore() *FederatedIdentityStore {
	return &FederatedIdentityStore{
		byProviderUser: make(map[[2]string]*domain.FederatedIdentity),
		byProviderName: make(map[[2]string]*domain.FederatedIdentity),
	}
}

func (s *FederatedIdentityStore) GetByProviderUserID(_ context.Context, provider, providerUserID string) (*domain.FederatedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byProviderUser[[2]string{provider, providerUserID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyLink(link), nil
}

func (s *FederatedIdentityStore) GetByProviderAndUser(_ context.Context, provider, userName string) (*domain.FederatedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byProviderName[[2]string{provider, userName}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyLink(link), nil
}

func (s *FederatedIdentityStore) Upsert(_ context.Context, link *domain.FederatedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	naturalKey := [2]string{link.Provider, link.ProviderUserID}
	userKey := [2]string{link.Provider, link.UserName}

	if existing, ok := s.byProviderUser[naturalKey]; ok {
		if existing.UserName != link.UserName {
			return domain.ErrLinkReassigned
		}
		updated := copyLink(link)
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = time.Now().UTC()
		updated.Version = existing.Version + 1
		s.byProviderUser[naturalKey] = updated
		s.byProviderName[userKey] = updated
		return nil
	}

	if _, ok := s.byProviderName[userKey]; ok {
		// This account already holds a link for the provider, under a
		// different external identity.
		return domain.ErrConflict
	}

	stored := copyLink(link)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Version = 1
	s.byProviderUser[naturalKey] = stored
	s.byProviderName[userKey] = stored
	return nil
}

func (s *FederatedIdentityStore) DeleteByProviderAndUser(_ context.Context, provider, userName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userKey := [2]string{provider, userName}
	link, ok := s.byProviderName[userKey]
	if !ok {
		return domain.ErrNotFound
	}
	delete(s.byProviderName, userKey)
	delete(s.byProviderUser, [2]string{link.Provider, link.ProviderUserID})
	return nil
}

func (s *FederatedIdentityStore) ListByUser(_ context.Context, userName string) ([]*domain.FederatedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var links []*domain.FederatedIdentity
	for _, link := range s.byProviderUser {
		if link.UserName == userName {
			links = append(links, copyLink(link))
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
	return links, nil
}

// Count returns the number of stored links.
func (s *FederatedIdentityStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byProviderUser)
}

func copyLink(link *domain.FederatedIdentity) *domain.FederatedIdentity {
	dup := *link
	dup.Scopes = append([]string(nil), link.Scopes...)
	if link.ExpiresAt != nil {
		expiry := *link.ExpiresAt
		dup.ExpiresAt = &expiry
	}
	return &dup
}

var _ domain.FederatedIdentityRepository = (*FederatedIdentityStore)(nil)
