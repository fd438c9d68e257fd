package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"
)

var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleProvider implements OAuth2Provider for Google.
type GoogleProvider struct {
	*BaseProvider
}

// NewGoogleProvider creates a GoogleProvider, filling in Google's well-known
// endpoints and making sure the profile scopes are requested.
func NewGoogleProvider(cfg ProviderConfig) (*GoogleProvider, error) {
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	for _, required := range []string{"openid", "profile", "email"} {
		found := false
		for _, scope := range cfg.Scopes {
			if scope == required {
				found = true
				break
			}
		}
		if !found {
			cfg.Scopes = append(cfg.Scopes, required)
		}
	}
	return &GoogleProvider{BaseProvider: NewBaseProvider(cfg)}, nil
}

// GetOAuth2Config overrides BaseProvider to use Google's standard endpoint.
func (g *GoogleProvider) GetOAuth2Config(redirectURL string) (*oauth2.Config, error) {
	if g.Config.ClientID == "" || g.Config.ClientSecret == "" {
		return nil, ErrProviderMisconfigured
	}
	return &oauth2.Config{
		ClientID:     g.Config.ClientID,
		ClientSecret: g.Config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       g.Config.Scopes,
		Endpoint:     googleOAuth2.Endpoint,
	}, nil
}

// FetchUserInfo fetches the userinfo document and maps it onto the
// standardized profile.
func (g *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error) {
	client := g.GetHttpClient(ctx, token)
	resp, err := client.Get(GoogleUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("google: failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google: failed to fetch user info: status %d, body: %s", resp.StatusCode, string(body))
	}

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google: failed to read user info response body: %w", err)
	}

	var raw struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Locale        string `json:"locale"`
		Zoneinfo      string `json:"zoneinfo"`
	}
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, fmt.Errorf("google: failed to unmarshal user info: %w", err)
	}

	var rawDataMap map[string]any
	_ = json.Unmarshal(rawBody, &rawDataMap)

	return &ExternalUserInfo{
		ProviderUserID: raw.Sub,
		Email:          raw.Email,
		DisplayName:    raw.Name,
		UserName:       raw.Email, // Google has no distinct username
		Locale:         raw.Locale,
		TimeZone:       raw.Zoneinfo,
		PictureURL:     raw.Picture,
		RawData:        rawDataMap,
	}, nil
}

var _ OAuth2Provider = (*GoogleProvider)(nil)
