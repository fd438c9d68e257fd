package federation

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ProviderConfig holds the OAuth2 client settings for one external provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	Enabled      bool
}

// ExternalUserInfo is the standardized profile retrieved from an external
// provider after a successful code exchange.
type ExternalUserInfo struct {
	ProviderUserID string // unique id at the provider, e.g. Google's 'sub'
	Email          string
	DisplayName    string
	UserName       string // preferred username at the provider, if any
	Locale         string
	TimeZone       string
	PictureURL     string
	RawData        map[string]any
}

// Credentials are the provider-issued OAuth2 credentials cached on the
// federated identity link. GrantedScopes holds the scopes the provider
// reported in the token response; the user may have granted fewer than were
// requested.
type Credentials struct {
	AccessToken   string
	RefreshToken  string
	IDToken       string
	TokenType     string
	GrantedScopes []string
	ExpiresAt     *time.Time
}

// CredentialsFromToken extracts cacheable credentials from an exchanged token.
func CredentialsFromToken(token *oauth2.Token) Credentials {
	creds := Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		creds.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		creds.GrantedScopes = splitScopes(scope)
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		creds.ExpiresAt = &expiry
	}
	return creds
}

// splitScopes splits a token-response scope string. RFC 6749 separates scopes
// with spaces; GitHub uses commas.
func splitScopes(scope string) []string {
	return strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

// OAuth2Provider is implemented once per external identity provider. The
// surrounding redirect/callback plumbing only talks to this interface.
type OAuth2Provider interface {
	// Name returns the unique identifier for the provider (e.g. "google").
	Name() string

	// GetOAuth2Config returns the oauth2.Config for this provider with the
	// given redirect URL filled in.
	GetOAuth2Config(redirectURL string) (*oauth2.Config, error)

	// GetAuthCodeURL builds the authorization URL the user is redirected to,
	// carrying the anti-forgery state parameter.
	GetAuthCodeURL(state, redirectURL string, opts ...oauth2.AuthCodeOption) (string, error)

	// ExchangeCode exchanges an authorization code for an OAuth2 token.
	ExchangeCode(ctx context.Context, redirectURL, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)

	// FetchUserInfo retrieves the standardized profile using an access token.
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error)
}

// BaseProvider holds the config-driven parts shared by provider
// implementations. FetchUserInfo must be supplied by the embedding type.
type BaseProvider struct {
	Config ProviderConfig
}

func NewBaseProvider(cfg ProviderConfig) *BaseProvider {
	return &BaseProvider{Config: cfg}
}

func (b *BaseProvider) Name() string {
	return b.Config.Name
}

func (b *BaseProvider) GetOAuth2Config(redirectURL string) (*oauth2.Config, error) {
	if b.Config.ClientID == "" || b.Config.ClientSecret == "" || b.Config.AuthURL == "" || b.Config.TokenURL == "" {
		return nil, ErrProviderMisconfigured
	}
	return &oauth2.Config{
		ClientID:     b.Config.ClientID,
		ClientSecret: b.Config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       b.Config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  b.Config.AuthURL,
			TokenURL: b.Config.TokenURL,
		},
	}, nil
}

func (b *BaseProvider) GetAuthCodeURL(state, redirectURL string, opts ...oauth2.AuthCodeOption) (string, error) {
	conf, err := b.GetOAuth2Config(redirectURL)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, opts...), nil
}

func (b *BaseProvider) ExchangeCode(ctx context.Context, redirectURL, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	conf, err := b.GetOAuth2Config(redirectURL)
	if err != nil {
		return nil, err
	}
	return conf.Exchange(ctx, code, opts...)
}

// GetHttpClient returns an HTTP client authenticated with the given token.
func (b *BaseProvider) GetHttpClient(ctx context.Context, token *oauth2.Token) *http.Client {
	conf, err := b.GetOAuth2Config("")
	if err != nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return conf.Client(ctx, token)
}
