package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers of a JSON API. Attachment
// downloads keep their own content type and may be cached privately.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if strings.Contains(c.Request().URL.Path, "/files/") && c.Request().Method == "GET" {
				h.Set("Cache-Control", "private, max-age=300")
			} else {
				h.Set("Cache-Control", "no-store")
			}

			return next(c)
		}
	}
}
