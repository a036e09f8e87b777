package notify

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/entnt/dental-connect/internal/domain/access"
	"github.com/entnt/dental-connect/internal/domain/clinic"
	"github.com/entnt/dental-connect/internal/domain/session"
	"github.com/entnt/dental-connect/internal/platform/auth"
)

// IncidentSource supplies the current incident list.
type IncidentSource interface {
	Incidents() []clinic.Incident
}

type Handler struct {
	engine    *Engine
	alerter   *Alerter
	incidents IncidentSource
}

// NewHandler serves the notification routes of the request's identity.
func NewHandler(engine *Engine, alerter *Alerter, incidents IncidentSource) *Handler {
	return &Handler{engine: engine, alerter: alerter, incidents: incidents}
}

// RegisterRoutes mounts the handler on api. Both routes need a login.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(access.AnyRole))
	g.GET("/notifications", h.List)
	g.POST("/notifications/seen", h.MarkSeen)
}

type listResponse struct {
	Notifications []Entry `json:"notifications"`
	Unread        int     `json:"unread"`
}

// List returns the notifications of the caller with their unread count.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	id := auth.IdentityFromContext(c)
	incs := h.incidents.Incidents()

	hd, _ := session.FromContext(ctx)
	h.alerter.Watch(ctx, hd.ID, id, incs)
	entries, err := h.engine.List(ctx, id, incs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	unread := 0
	for _, e := range entries {
		if !e.Read {
			unread++
		}
	}
	return c.JSON(http.StatusOK, listResponse{Notifications: entries, Unread: unread})
}

// MarkSeen acknowledges the notifications currently shown to the caller.
func (h *Handler) MarkSeen(c echo.Context) error {
	ctx := c.Request().Context()
	id := auth.IdentityFromContext(c)
	incs := h.incidents.Incidents()

	if err := h.engine.MarkSeen(ctx, id, Compute(id, incs)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.alerter.Evaluate(ctx, id, incs)
	n, err := h.engine.UnreadCount(ctx, id, incs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

// WebSocketTopics entitles a signed-in client to its own alert topic.
func WebSocketTopics(c echo.Context) ([]string, error) {
	id := auth.IdentityFromContext(c)
	if id == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "login required")
	}
	return []string{Topic(id.Email())}, nil
}
