package domain

import "time"

// FederatedIdentity links a local account to an identity at an external OAuth2
// provider, together with the cached provider credentials from the most recent
// login. The pairing is unique both ways: one external identity maps to at most
// one local account, and a local account holds at most one link per provider.
type FederatedIdentity struct {
	ID             string     `bson:"_id,omitempty" json:"id,omitempty"`
	Provider       string     `bson:"provider" json:"provider"`
	ProviderUserID string     `bson:"provider_user_id" json:"provider_user_id"`
	UserName       string     `bson:"user_name" json:"user_name"`
	Scopes         []string   `bson:"scopes,omitempty" json:"scopes,omitempty"`
	AccessToken    string     `bson:"access_token,omitempty" json:"-"`
	RefreshToken   string     `bson:"refresh_token,omitempty" json:"-"`
	IDToken        string     `bson:"id_token,omitempty" json:"-"`
	TokenType      string     `bson:"token_type,omitempty" json:"token_type,omitempty"`
	ExpiresAt      *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`

	Version int64 `bson:"version,omitempty" json:"-"`
}

// RefreshCredentials replaces the cached provider credentials on an existing
// link. The pairing itself (provider, provider user id, local user) never
// changes after creation.
func (f *FederatedIdentity) RefreshCredentials(accessToken, refreshToken, idToken, tokenType string, scopes []string, expiresAt *time.Time) {
	f.AccessToken = accessToken
	if refreshToken != "" {
		f.RefreshToken = refreshToken
	}
	if idToken != "" {
		f.IDToken = idToken
	}
	if tokenType != "" {
		f.TokenType = tokenType
	}
	if len(scopes) > 0 {
		f.Scopes = scopes
	}
	f.ExpiresAt = expiresAt
}
