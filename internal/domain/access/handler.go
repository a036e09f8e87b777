package access

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/entnt/dental-connect/internal/domain/session"
)

type Handler struct{}

// NewHandler returns the route resolution handler.
func NewHandler() *Handler { return &Handler{} }

// RegisterRoutes mounts the handler on api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/access/resolve", h.Resolve)
}

// Resolve answers where the caller lands for the path query parameter.
func (h *Handler) Resolve(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	return c.JSON(http.StatusOK, Resolve(path, session.IdentityFromContext(c.Request().Context())))
}
