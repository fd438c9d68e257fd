package federation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// Service owns the registry of configured providers and handles the code
// exchange leg of federated login: given an authorization code it produces
// cacheable provider credentials and a standardized profile.
type Service struct {
	providers       map[string]OAuth2Provider
	baseRedirectURL string
}

// NewService creates a federation Service. baseRedirectURL is the URL
// providers redirect back to, e.g. "https://accounts.example.com/federation/callback";
// the provider name is appended per provider.
func NewService(baseRedirectURL string) *Service {
	return &Service{
		providers:       make(map[string]OAuth2Provider),
		baseRedirectURL: baseRedirectURL,
	}
}

// RegisterProvider adds a provider implementation to the registry.
func (s *Service) RegisterProvider(provider OAuth2Provider) {
	s.providers[provider.Name()] = provider
}

// NewProviderFromConfig builds the matching provider implementation for one
// config entry. Unknown names fall back to the generic endpoint-driven
// provider, which requires explicit auth/token URLs and has no profile parser.
func NewProviderFromConfig(cfg ProviderConfig) (OAuth2Provider, error) {
	switch cfg.Name {
	case "google":
		return NewGoogleProvider(cfg)
	case "github":
		return NewGitHubProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, cfg.Name)
	}
}

// GetProvider returns the registered provider with the given name.
func (s *Service) GetProvider(name string) (OAuth2Provider, error) {
	provider, ok := s.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Providers lists the names of all registered providers.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// GenerateAuthState produces an unguessable value for the state parameter.
func (s *Service) GenerateAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GetAuthorizationURL constructs the provider URL to redirect the user to.
func (s *Service) GetAuthorizationURL(providerName, state string, opts ...oauth2.AuthCodeOption) (string, error) {
	provider, err := s.GetProvider(providerName)
	if err != nil {
		return "", err
	}
	return provider.GetAuthCodeURL(state, s.RedirectURLForProvider(providerName), opts...)
}

// Exchange trades an authorization code for provider credentials and the
// standardized profile. State validation happens before this is called.
func (s *Service) Exchange(ctx context.Context, providerName, code string, opts ...oauth2.AuthCodeOption) (*ExternalUserInfo, Credentials, error) {
	provider, err := s.GetProvider(providerName)
	if err != nil {
		return nil, Credentials{}, err
	}

	token, err := provider.ExchangeCode(ctx, s.RedirectURLForProvider(providerName), code, opts...)
	if err != nil {
		return nil, Credentials{}, fmt.Errorf("%w: %v", ErrExchangeCodeFailed, err)
	}

	userInfo, err := provider.FetchUserInfo(ctx, token)
	if err != nil {
		return nil, Credentials{}, fmt.Errorf("%w: %v", ErrFetchUserInfoFailed, err)
	}

	return userInfo, CredentialsFromToken(token), nil
}

// RedirectURLForProvider appends the provider name to the base redirect URL.
func (s *Service) RedirectURLForProvider(providerName string) string {
	base := s.baseRedirectURL
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return fmt.Sprintf("%s/%s", base, url.PathEscape(providerName))
}
