package domain

import "context"

// FederatedIdentityRepository persists the pairing between external identities
// and local accounts.
type FederatedIdentityRepository interface {
	// GetByProviderUserID looks a link up by its external natural key.
	// Returns ErrNotFound if no link exists.
	GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*FederatedIdentity, error)

	// GetByProviderAndUser looks a link up by provider and local user name.
	// Returns ErrNotFound if no link exists.
	GetByProviderAndUser(ctx context.Context, provider, userName string) (*FederatedIdentity, error)

	// Upsert creates the link, or refreshes the credentials of the existing
	// record with the same (provider, provider_user_id) key. Attempting to
	// change the local account of an existing link fails with
	// ErrLinkReassigned; colliding with a different link on one of the unique
	// keys fails with ErrConflict.
	Upsert(ctx context.Context, link *FederatedIdentity) error

	// DeleteByProviderAndUser removes a user's link for one provider (explicit
	// disconnect). Returns ErrNotFound if no link exists.
	DeleteByProviderAndUser(ctx context.Context, provider, userName string) error

	// ListByUser returns every link held by a local account.
	ListByUser(ctx context.Context, userName string) ([]*FederatedIdentity, error)
}

// TokenRepository is the token-storage extension point consumed by the external
// authorization server. Write operations that violate a unique constraint
// return ErrConflict; lookups that match nothing return ErrNotFound.
type TokenRepository interface {
	// StoreAccessToken upserts an access token by value.
	StoreAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, value string) (*AccessToken, error)

	// GetGrantContext returns the serialized grant context stored with an
	// access token.
	GetGrantContext(ctx context.Context, value string) (*GrantContext, error)

	// FindAccessToken resolves "the" token for a grant context. When several
	// live tokens match (userName-or-absent, clientId, normalized scopes), the
	// one with the earliest expiration wins; concurrent issuance may leave
	// transient duplicates and the lookup rule alone defines the winner.
	FindAccessToken(ctx context.Context, grant *GrantContext) (*AccessToken, error)

	RemoveAccessToken(ctx context.Context, value string) error

	// RemoveAccessTokensByRefreshToken cascade-deletes every access token
	// referencing the given refresh token value.
	RemoveAccessTokensByRefreshToken(ctx context.Context, refreshValue string) error

	StoreRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	// RemoveRefreshToken deletes a refresh token and cascades to its dependent
	// access tokens.
	RemoveRefreshToken(ctx context.Context, value string) error

	// FindTokensByClient and FindTokensByClientAndUser enumerate access tokens
	// for administrative revocation.
	FindTokensByClient(ctx context.Context, clientID string) ([]*AccessToken, error)
	FindTokensByClientAndUser(ctx context.Context, clientID, userName string) ([]*AccessToken, error)

	// DeleteExpiredTokens sweeps access tokens whose expiration has passed.
	DeleteExpiredTokens(ctx context.Context) error
}

// UserDirectory is the local account directory, provided by the surrounding
// system. Create fails with ErrConflict when the user name is already taken;
// the caller must treat that as the authoritative race signal rather than
// pre-checking.
type UserDirectory interface {
	FindByUserName(ctx context.Context, userName string) (*User, error)

	// FindByLogin resolves a user by user name or e-mail address.
	FindByLogin(ctx context.Context, login string) (*User, error)

	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error

	// Delete removes an account. Resolution uses it only to compensate a
	// creation whose link write failed afterwards.
	Delete(ctx context.Context, userName string) error

	CountByUserName(ctx context.Context, userName string) (int64, error)

	GrantRole(ctx context.Context, userName, role string) error
	RevokeRole(ctx context.Context, userName, role string) error
}

// PendingRegistrationDirectory exposes not-yet-confirmed registrations, used
// only to detect user-name collisions during account creation.
type PendingRegistrationDirectory interface {
	CountByUserName(ctx context.Context, userName string) (int64, error)
}
