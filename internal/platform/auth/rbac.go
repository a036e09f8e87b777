package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/entnt/dental-connect/internal/domain/access"
	"github.com/entnt/dental-connect/internal/domain/session"
)

// RequireRole rejects requests whose identity does not satisfy req. The
// response carries the redirect target of the access decision.
func RequireRole(req access.Requirement) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := access.Authorize(session.IdentityFromContext(c.Request().Context()), req)
			if d.Allowed {
				return next(c)
			}
			if d.Unauthenticated() {
				return c.JSON(http.StatusUnauthorized, denial{Message: "login required", Redirect: d.Redirect})
			}
			return c.JSON(http.StatusForbidden, denial{Message: "required role: " + req.String(), Redirect: d.Redirect})
		}
	}
}

type denial struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect"`
}

// IdentityFromContext returns the identity of the request, or nil.
func IdentityFromContext(c echo.Context) session.Identity {
	return session.IdentityFromContext(c.Request().Context())
}
