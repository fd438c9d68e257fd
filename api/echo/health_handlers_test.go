package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func probeHealth(api *HealthAPI) *httptest.ResponseRecorder {
	e := echo.New()
	api.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	t.Run("ok without a store ping", func(t *testing.T) {
		rec := probeHealth(NewHealthAPI(nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ok when the store answers", func(t *testing.T) {
		rec := probeHealth(NewHealthAPI(func(context.Context) error { return nil }))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unavailable when the store does not", func(t *testing.T) {
		rec := probeHealth(NewHealthAPI(func(context.Context) error {
			return errors.New("connection refused")
		}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "unavailable")
	})
}
