//nolint:varnamelen
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/internal/federation"
	"go.adatlab.hu/idp/internal/nonce"
	"go.adatlab.hu/idp/internal/resolver"
)

const (
	sessionCookieName = "idp_session"

	// pendingAssertionTTL bounds how long a merge decision may take after the
	// callback surfaced a MustLink outcome.
	pendingAssertionTTL = 5 * time.Minute
)

// FederationAPI exposes the federated-login flow over HTTP: redirect
// initiation, the provider callback, the three merge-decision endpoints and
// link management. Between the callback and the merge decision the verified
// assertion is parked in a TTL cache under an opaque continuation token.
type FederationAPI struct {
	fedService *federation.Service
	resolver   *resolver.Resolver
	nonces     nonce.Store
	links      domain.FederatedIdentityRepository

	pending *ttlcache.Cache[string, *resolver.Assertion]
}

// NewFederationAPI initializes the federation API.
func NewFederationAPI(
	fedService *federation.Service,
	idResolver *resolver.Resolver,
	nonces nonce.Store,
	links domain.FederatedIdentityRepository,
) *FederationAPI {
	pending := ttlcache.New(
		ttlcache.WithTTL[string, *resolver.Assertion](pendingAssertionTTL),
		ttlcache.WithDisableTouchOnHit[string, *resolver.Assertion](),
	)
	go pending.Start()

	return &FederationAPI{
		fedService: fedService,
		resolver:   idResolver,
		nonces:     nonces,
		links:      links,
		pending:    pending,
	}
}

// Stop halts the continuation cache's cleanup goroutine.
func (fa *FederationAPI) Stop() {
	fa.pending.Stop()
}

// RegisterRoutes registers the federation routes.
func (fa *FederationAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/federation/providers", fa.ProvidersHandler)
	e.GET("/federation/initiate/:provider", fa.InitiateHandler)
	e.GET("/federation/callback/:provider", fa.CallbackHandler)
	e.POST("/federation/link", fa.PasswordLinkHandler)
	e.POST("/federation/register", fa.RegisterHandler)
	e.POST("/federation/register/silent", fa.SilentRegisterHandler)
	e.GET("/federation/identities/:user", fa.ListIdentitiesHandler)
	e.DELETE("/federation/identities/:user/:provider", fa.DisconnectHandler)
}

// ProvidersHandler lists the configured provider names.
func (fa *FederationAPI) ProvidersHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"providers": fa.fedService.Providers()})
}

// InitiateHandler issues the single-use state nonce and redirects the browser
// to the provider's authorization endpoint.
func (fa *FederationAPI) InitiateHandler(c echo.Context) error {
	provider := c.Param("provider")

	sessionID := fa.sessionID(c)
	state, err := fa.nonces.Issue(c.Request().Context(), nonceKey(sessionID, provider))
	if err != nil {
		log.Error().Err(err).Str("provider", provider).Msg("Failed to issue auth state")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "failed to start login"))
	}

	authURL, err := fa.fedService.GetAuthorizationURL(provider, state)
	if err != nil {
		if errors.Is(err, federation.ErrProviderNotFound) || errors.Is(err, federation.ErrProviderMisconfigured) {
			return c.JSON(http.StatusNotFound, errorBody("unknown_provider", "provider not configured"))
		}
		log.Error().Err(err).Str("provider", provider).Msg("Failed to build authorization URL")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "failed to start login"))
	}

	return c.Redirect(http.StatusFound, authURL)
}

// CallbackHandler consumes the nonce, exchanges the code and resolves the
// resulting assertion. A MustLink outcome is not an error: it returns the
// foreign profile and a continuation token for the merge-decision endpoints.
func (fa *FederationAPI) CallbackHandler(c echo.Context) error {
	provider := c.Param("provider")
	state := c.QueryParam("state")
	code := c.QueryParam("code")

	// Consume before anything else; the nonce is gone even if the rest fails.
	sessionID := fa.sessionID(c)
	if err := fa.nonces.Consume(c.Request().Context(), nonceKey(sessionID, provider), state); err != nil {
		log.Warn().Str("provider", provider).Msg("State nonce missing or mismatched on callback")
		return c.JSON(http.StatusUnauthorized, errorBody("invalid_state", "login flow expired or invalid"))
	}

	if code == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "code is required"))
	}

	profile, creds, err := fa.fedService.Exchange(c.Request().Context(), provider, code)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Provider exchange failed")
		return c.JSON(http.StatusBadGateway, errorBody("provider_error", "login with provider failed"))
	}

	// Prefer the scopes the provider says it granted; the user may have
	// approved fewer than were requested.
	scopes := creds.GrantedScopes
	if len(scopes) == 0 {
		scopes = fa.providerScopes(provider)
	}

	assertion := &resolver.Assertion{
		Provider:    provider,
		Profile:     *profile,
		Scopes:      scopes,
		Credentials: creds,
	}

	principal, err := fa.resolver.Resolve(c.Request().Context(), &resolver.DirectAssertion{Assertion: *assertion})
	if err == nil {
		return c.JSON(http.StatusOK, principalBody("login_successful", principal))
	}

	if mustLink, ok := resolver.AsMustLink(err); ok {
		token := uuid.NewString()
		fa.pending.Set(token, assertion, ttlcache.DefaultTTL)
		return c.JSON(http.StatusConflict, map[string]any{
			"status":             "must_link",
			"continuation_token": token,
			"provider":           mustLink.Provider,
			"profile": map[string]any{
				"provider_user_id": mustLink.Profile.ProviderUserID,
				"email":            mustLink.Profile.Email,
				"display_name":     mustLink.Profile.DisplayName,
			},
		})
	}

	log.Error().Err(err).Str("provider", provider).Msg("Direct resolution failed")
	return c.JSON(http.StatusInternalServerError, errorBody("server_error", "login failed"))
}

type passwordLinkRequest struct {
	ContinuationToken string `json:"continuation_token"`
	UserName          string `json:"user_name"`
	Password          string `json:"password"`
}

// PasswordLinkHandler links the pending assertion to an existing account after
// verifying its password. Unknown user and wrong password are one failure.
func (fa *FederationAPI) PasswordLinkHandler(c echo.Context) error {
	var req passwordLinkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "malformed body"))
	}

	assertion, ok := fa.pendingAssertion(req.ContinuationToken)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("invalid_continuation", "continuation token invalid or expired"))
	}

	principal, err := fa.resolver.Resolve(c.Request().Context(), &resolver.PasswordLink{
		Assertion: *assertion,
		UserName:  req.UserName,
		Password:  req.Password,
	})
	if err != nil {
		if errors.Is(err, resolver.ErrLoginFailed) {
			// The token stays alive so the form can be resubmitted.
			return c.JSON(http.StatusUnauthorized, errorBody("login_failed", "login failed"))
		}
		log.Error().Err(err).Msg("Password link failed")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "linking failed"))
	}

	fa.pending.Delete(req.ContinuationToken)
	return c.JSON(http.StatusOK, principalBody("account_linked", principal))
}

type registerRequest struct {
	ContinuationToken string `json:"continuation_token"`
	UserName          string `json:"user_name"`
	Password          string `json:"password"`
	Confirmation      string `json:"confirmation"`
}

// RegisterHandler creates a new account with user-chosen credentials and links
// the pending assertion to it.
func (fa *FederationAPI) RegisterHandler(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "malformed body"))
	}

	assertion, ok := fa.pendingAssertion(req.ContinuationToken)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("invalid_continuation", "continuation token invalid or expired"))
	}

	principal, err := fa.resolver.Resolve(c.Request().Context(), &resolver.CreateAndLink{
		Assertion:    *assertion,
		UserName:     req.UserName,
		Password:     req.Password,
		Confirmation: req.Confirmation,
	})
	if err != nil {
		if createErr, ok := resolver.AsCreateAndLinkError(err); ok {
			return c.JSON(http.StatusUnprocessableEntity, errorBody(string(createErr.Reason), "account creation failed"))
		}
		log.Error().Err(err).Msg("Create and link failed")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "account creation failed"))
	}

	fa.pending.Delete(req.ContinuationToken)
	return c.JSON(http.StatusCreated, principalBody("account_created", principal))
}

type silentRegisterRequest struct {
	ContinuationToken string `json:"continuation_token"`
}

// SilentRegisterHandler creates an account with generated credentials. Its
// failures are deliberately opaque.
func (fa *FederationAPI) SilentRegisterHandler(c echo.Context) error {
	var req silentRegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "malformed body"))
	}

	assertion, ok := fa.pendingAssertion(req.ContinuationToken)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("invalid_continuation", "continuation token invalid or expired"))
	}

	principal, err := fa.resolver.Resolve(c.Request().Context(), &resolver.SilentCreateAndLink{Assertion: *assertion})
	if err != nil {
		log.Error().Err(err).Msg("Silent create and link failed")
		return c.JSON(http.StatusUnauthorized, errorBody("authentication_failed", "authentication failed"))
	}

	fa.pending.Delete(req.ContinuationToken)
	return c.JSON(http.StatusCreated, principalBody("account_created", principal))
}

// ListIdentitiesHandler lists the provider links of a local account.
func (fa *FederationAPI) ListIdentitiesHandler(c echo.Context) error {
	userName := c.Param("user")
	links, err := fa.links.ListByUser(c.Request().Context(), userName)
	if err != nil {
		log.Error().Err(err).Str("user_name", userName).Msg("Failed to list federated identities")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "could not list linked accounts"))
	}

	out := make([]map[string]any, 0, len(links))
	for _, link := range links {
		out = append(out, map[string]any{
			"provider":         link.Provider,
			"provider_user_id": link.ProviderUserID,
			"scopes":           link.Scopes,
			"created_at":       link.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"identities": out})
}

// DisconnectHandler removes a user's link for one provider.
func (fa *FederationAPI) DisconnectHandler(c echo.Context) error {
	userName := c.Param("user")
	provider := c.Param("provider")

	err := fa.links.DeleteByProviderAndUser(c.Request().Context(), provider, userName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("not_found", "no link for this provider"))
		}
		log.Error().Err(err).Str("user_name", userName).Str("provider", provider).
			Msg("Failed to disconnect federated identity")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "disconnect failed"))
	}
	return c.NoContent(http.StatusNoContent)
}

// sessionID reads or sets the browser-session cookie scoping the nonce key.
func (fa *FederationAPI) sessionID(c echo.Context) string {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	sessionID := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}

func (fa *FederationAPI) pendingAssertion(token string) (*resolver.Assertion, bool) {
	if token == "" {
		return nil, false
	}
	item := fa.pending.Get(token)
	if item == nil || item.Value() == nil {
		return nil, false
	}
	return item.Value(), true
}

// providerScopes returns the scopes the provider was configured to request,
// as the fallback when the token response carries no scope field.
func (fa *FederationAPI) providerScopes(providerName string) []string {
	provider, err := fa.fedService.GetProvider(providerName)
	if err != nil {
		return nil
	}
	conf, err := provider.GetOAuth2Config("")
	if err != nil {
		return nil
	}
	return conf.Scopes
}

func nonceKey(sessionID, provider string) string {
	return sessionID + ":" + provider
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"error": code, "message": message}
}

func principalBody(status string, principal *resolver.Principal) map[string]any {
	return map[string]any{
		"status":    status,
		"user_name": principal.User.UserName,
		"roles":     principal.Roles,
	}
}
