package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	githubOAuth2 "golang.org/x/oauth2/github"
)

var (
	GithubUserInfoEndpoint   = "https://api.github.com/user"
	GithubUserEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHubProvider implements OAuth2Provider for GitHub.
type GitHubProvider struct {
	*BaseProvider
}

// NewGitHubProvider creates a GitHubProvider, making sure the profile and
// email scopes are requested.
func NewGitHubProvider(cfg ProviderConfig) (*GitHubProvider, error) {
	if cfg.Name == "" {
		cfg.Name = "github"
	}
	for _, required := range []string{"read:user", "user:email"} {
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
	return &GitHubProvider{BaseProvider: NewBaseProvider(cfg)}, nil
}

// GetOAuth2Config overrides BaseProvider to use GitHub's standard endpoint.
func (g *GitHubProvider) GetOAuth2Config(redirectURL string) (*oauth2.Config, error) {
	if g.Config.ClientID == "" || g.Config.ClientSecret == "" {
		return nil, ErrProviderMisconfigured
	}
	return &oauth2.Config{
		ClientID:     g.Config.ClientID,
		ClientSecret: g.Config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       g.Config.Scopes,
		Endpoint:     githubOAuth2.Endpoint,
	}, nil
}

// FetchUserInfo needs two calls against GitHub: one for the profile, one for
// the primary verified e-mail, which the profile document may keep private.
func (g *GitHubProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error) {
	client := g.GetHttpClient(ctx, token)

	userResp, err := client.Get(GithubUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("github: failed to get user info: %w", err)
	}
	defer userResp.Body.Close()

	if userResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(userResp.Body)
		return nil, fmt.Errorf("github: failed to fetch user info: status %d, body: %s", userResp.StatusCode, string(body))
	}

	userBody, err := io.ReadAll(userResp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: failed to read user info response body: %w", err)
	}

	var raw struct {
		ID        json.Number `json:"id"`
		Login     string      `json:"login"`
		Name      string      `json:"name"`
		Email     string      `json:"email"`
		AvatarURL string      `json:"avatar_url"`
	}
	if err := json.Unmarshal(userBody, &raw); err != nil {
		return nil, fmt.Errorf("github: failed to unmarshal user info: %w", err)
	}

	var rawDataMap map[string]any
	_ = json.Unmarshal(userBody, &rawDataMap)

	displayName := raw.Name
	if displayName == "" {
		displayName = raw.Login
	}

	primaryEmail := raw.Email
	if email := g.fetchPrimaryEmail(ctx, client); email != "" {
		primaryEmail = email
	}

	return &ExternalUserInfo{
		ProviderUserID: raw.ID.String(),
		Email:          primaryEmail,
		DisplayName:    displayName,
		UserName:       raw.Login,
		PictureURL:     raw.AvatarURL,
		RawData:        rawDataMap,
	}, nil
}

// fetchPrimaryEmail returns the primary verified address, or the first
// verified one. A failure here is not fatal; the profile e-mail is the
// fallback.
func (g *GitHubProvider) fetchPrimaryEmail(_ context.Context, client *http.Client) string {
	resp, err := client.Get(GithubUserEmailsEndpoint)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &emails); err != nil {
		return ""
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

var _ OAuth2Provider = (*GitHubProvider)(nil)
