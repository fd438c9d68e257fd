package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.adatlab.hu/idp/domain"
)

// TokensAPI exposes administrative enumeration and revocation over the
// credential store. Grant issuance itself lives in the external authorization
// server; these endpoints only manage already-persisted tokens.
type TokensAPI struct {
	tokens domain.TokenRepository
}

func NewTokensAPI(tokens domain.TokenRepository) *TokensAPI {
	return &TokensAPI{tokens: tokens}
}

// RegisterRoutes registers the token management routes.
func (ta *TokensAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/admin/tokens", ta.ListHandler)
	e.DELETE("/admin/tokens/access/:value", ta.RevokeAccessHandler)
	e.DELETE("/admin/tokens/refresh/:value", ta.RevokeRefreshHandler)
	e.POST("/admin/tokens/sweep", ta.SweepHandler)
}

// ListHandler enumerates access tokens by client, optionally narrowed to one
// user.
func (ta *TokensAPI) ListHandler(c echo.Context) error {
	clientID := c.QueryParam("client_id")
	if clientID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "client_id is required"))
	}

	var (
		tokens []*domain.AccessToken
		err    error
	)
	if userName := c.QueryParam("user_name"); userName != "" {
		tokens, err = ta.tokens.FindTokensByClientAndUser(c.Request().Context(), clientID, userName)
	} else {
		tokens, err = ta.tokens.FindTokensByClient(c.Request().Context(), clientID)
	}
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("Failed to enumerate tokens")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "token enumeration failed"))
	}

	out := make([]map[string]any, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, map[string]any{
			"value":      token.Value,
			"user_name":  token.UserName,
			"client_id":  token.ClientID,
			"scope":      token.Scope,
			"expires_at": token.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"tokens": out})
}

func (ta *TokensAPI) RevokeAccessHandler(c echo.Context) error {
	if err := ta.tokens.RemoveAccessToken(c.Request().Context(), c.Param("value")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("not_found", "no such token"))
		}
		log.Error().Err(err).Msg("Failed to revoke access token")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "revocation failed"))
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeRefreshHandler removes a refresh token and, through the store's
// cascade, every access token issued against it.
func (ta *TokensAPI) RevokeRefreshHandler(c echo.Context) error {
	if err := ta.tokens.RemoveRefreshToken(c.Request().Context(), c.Param("value")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("not_found", "no such token"))
		}
		log.Error().Err(err).Msg("Failed to revoke refresh token")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "revocation failed"))
	}
	return c.NoContent(http.StatusNoContent)
}

// SweepHandler deletes expired access tokens.
func (ta *TokensAPI) SweepHandler(c echo.Context) error {
	if err := ta.tokens.DeleteExpiredTokens(c.Request().Context()); err != nil {
		log.Error().Err(err).Msg("Failed to sweep expired tokens")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", "sweep failed"))
	}
	return c.NoContent(http.StatusNoContent)
}
