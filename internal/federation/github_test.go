package federation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"go.adatlab.hu/idp/internal/federation"
)

func githubTestServer(t *testing.T, profileJSON, emailsJSON string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			_, _ = w.Write([]byte(profileJSON))
		case "/user/emails":
			_, _ = w.Write([]byte(emailsJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	origUser, origEmails := federation.GithubUserInfoEndpoint, federation.GithubUserEmailsEndpoint
	federation.GithubUserInfoEndpoint = server.URL + "/user"
	federation.GithubUserEmailsEndpoint = server.URL + "/user/emails"
	t.Cleanup(func() {
		federation.GithubUserInfoEndpoint = origUser
		federation.GithubUserEmailsEndpoint = origEmails
		server.Close()
	})
	return server
}

func TestGitHubProvider_FetchUserInfo(t *testing.T) {
	githubTestServer(t,
		`{"id": 42, "login": "janed", "name": "Jane Doe", "email": null, "avatar_url": "https://example.com/a.png"}`,
		`[
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "jane@example.com", "primary": true, "verified": true}
		]`)

	provider, err := federation.NewGitHubProvider(federation.ProviderConfig{
		Name: "github", ClientID: "id", ClientSecret: "secret",
	})
	require.NoError(t, err)

	userInfo, err := provider.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "dummy"})
	require.NoError(t, err)

	assert.Equal(t, "42", userInfo.ProviderUserID)
	assert.Equal(t, "janed", userInfo.UserName)
	assert.Equal(t, "Jane Doe", userInfo.DisplayName)
	assert.Equal(t, "jane@example.com", userInfo.Email, "the primary verified e-mail wins over the profile field")
	assert.Equal(t, "https://example.com/a.png", userInfo.PictureURL)
}

func TestGitHubProvider_FetchUserInfo_LoginFallback(t *testing.T) {
	githubTestServer(t,
		`{"id": 42, "login": "janed", "name": "", "email": "jane@example.com"}`,
		`[]`)

	provider, err := federation.NewGitHubProvider(federation.ProviderConfig{
		Name: "github", ClientID: "id", ClientSecret: "secret",
	})
	require.NoError(t, err)

	userInfo, err := provider.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "dummy"})
	require.NoError(t, err)

	assert.Equal(t, "janed", userInfo.DisplayName, "missing display name falls back to the login")
	assert.Equal(t, "jane@example.com", userInfo.Email)
}

func TestNewGitHubProvider_EnsuresScopes(t *testing.T) {
	provider, err := federation.NewGitHubProvider(federation.ProviderConfig{
		Name: "github", ClientID: "id", ClientSecret: "secret",
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"read:user", "user:email"}, provider.Config.Scopes)
}
