package domain

import (
	"strings"
	"time"
)

// GrantContext captures the full authentication context an access token was
// issued under. Serialized holds the opaque blob the authorization server needs
// to reconstruct the grant; UserName, ClientID and Scopes are the extracted key
// fields used for deterministic lookup. An empty UserName means a client-only
// grant (no end user involved).
type GrantContext struct {
	UserName   string   `bson:"user_name,omitempty" json:"user_name,omitempty"`
	ClientID   string   `bson:"client_id" json:"client_id"`
	Scopes     []string `bson:"scopes,omitempty" json:"scopes,omitempty"`
	Serialized []byte   `bson:"serialized,omitempty" json:"-"`
}

// ScopeKey returns the normalized scope string used as part of the lookup key.
// Order is preserved; scopes are joined with single spaces.
func (g *GrantContext) ScopeKey() string {
	return NormalizeScopes(g.Scopes)
}

// NormalizeScopes joins scopes with single spaces, preserving order.
func NormalizeScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// AccessToken is one issued OAuth2 access token together with its grant
// context. A token may reference the refresh token it was issued alongside;
// removing that refresh token cascades to every access token referencing it.
type AccessToken struct {
	ID                string    `bson:"_id,omitempty" json:"id,omitempty"`
	Value             string    `bson:"value" json:"value"`
	UserName          string    `bson:"user_name,omitempty" json:"user_name,omitempty"`
	ClientID          string    `bson:"client_id" json:"client_id"`
	Scope             string    `bson:"scope,omitempty" json:"scope,omitempty"`
	GrantContext      []byte    `bson:"grant_context,omitempty" json:"-"`
	TokenType         string    `bson:"token_type,omitempty" json:"token_type,omitempty"`
	ExpiresAt         time.Time `bson:"expires_at" json:"expires_at"`
	RefreshTokenValue string    `bson:"refresh_token_value,omitempty" json:"-"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}

// RefreshToken is one issued OAuth2 refresh token with its grant context.
type RefreshToken struct {
	ID           string    `bson:"_id,omitempty" json:"id,omitempty"`
	Value        string    `bson:"value" json:"value"`
	UserName     string    `bson:"user_name,omitempty" json:"user_name,omitempty"`
	ClientID     string    `bson:"client_id" json:"client_id"`
	Scope        string    `bson:"scope,omitempty" json:"scope,omitempty"`
	GrantContext []byte    `bson:"grant_context,omitempty" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}
