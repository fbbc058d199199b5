package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lineci/lineci/internal"
)

// WebhookKeyMiddleware guards the webhook trigger route. An empty
// configured key disables the route entirely rather than leaving it open.
func WebhookKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return echo.NewHTTPError(
					http.StatusForbidden, "webhook triggers are not configured",
				)
			}
			provided := c.Request().Header.Get(internal.WebhookTriggerKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
