package echo

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// HealthAPI exposes the liveness probe. storePing, when set, reports backing
// store connectivity; embedded mode runs without one.
type HealthAPI struct {
	storePing func(ctx context.Context) error
}

// NewHealthAPI initializes the health API. storePing may be nil.
func NewHealthAPI(storePing func(ctx context.Context) error) *HealthAPI {
	return &HealthAPI{storePing: storePing}
}

// RegisterRoutes registers the health route.
func (ha *HealthAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", ha.HealthHandler)
}

// HealthHandler reports 200 when the process and its backing store are
// reachable, 503 otherwise.
func (ha *HealthAPI) HealthHandler(c echo.Context) error {
	if ha.storePing != nil {
		if err := ha.storePing(c.Request().Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed against backing store")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
