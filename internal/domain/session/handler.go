package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// TokenIssuer signs the bearer token that binds a client to its session.
type TokenIssuer interface {
	Issue(sid string, id Identity) (string, error)
}

// Hooks observe session transitions of session sid. OnLogin runs after a
// successful login with the new identity. OnLogout runs with the identity
// that was replaced or logged out. Either may be nil.
type Hooks struct {
	OnLogin  func(ctx context.Context, sid string, id Identity)
	OnLogout func(ctx context.Context, sid string, id Identity)
}

// Handler serves login, logout and theme preference routes.
type Handler struct {
	manager *Manager
	tokens  TokenIssuer
	themes  func(ctx context.Context) *ThemeStore
	hooks   Hooks
}

// NewHandler wires the login endpoints. Requests without a session use the
// global theme store.
func NewHandler(manager *Manager, tokens TokenIssuer, global *ThemeStore, hooks Hooks) *Handler {
	h := &Handler{manager: manager, tokens: tokens, hooks: hooks}
	h.themes = func(ctx context.Context) *ThemeStore {
		if hd, ok := FromContext(ctx); ok {
			return NewThemeStore(manager.Blob(hd.ID))
		}
		return global
	}
	return h
}

// RegisterRoutes mounts the handler on api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
	api.GET("/preferences/theme", h.GetTheme)
	api.PUT("/preferences/theme", h.SetTheme)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  Record `json:"user"`
}

// Login authenticates the request's session, or starts one when the request
// carries no token.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	var (
		previous Identity
		matched  bool
		err      error
	)
	hd, ok := FromContext(ctx)
	if ok {
		previous = hd.Provider.Current()
		matched, err = hd.Provider.Login(ctx, req.Email, req.Password)
	} else {
		hd, matched, err = h.manager.Start(ctx, req.Email, req.Password)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !matched {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	id := hd.Provider.Current()
	token, err := h.tokens.Issue(hd.ID, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if previous != nil && h.hooks.OnLogout != nil {
		h.hooks.OnLogout(ctx, hd.ID, previous)
	}
	if h.hooks.OnLogin != nil {
		h.hooks.OnLogin(ctx, hd.ID, id)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, User: ToRecord(id)})
}

// Logout ends the request's session.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	hd, ok := FromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	previous := hd.Provider.Current()
	if err := hd.Provider.Logout(ctx); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.manager.Forget(hd.ID)
	if previous != nil && h.hooks.OnLogout != nil {
		h.hooks.OnLogout(ctx, hd.ID, previous)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the identity of the request's session.
func (h *Handler) Me(c echo.Context) error {
	id := IdentityFromContext(c.Request().Context())
	if id == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	}
	return c.JSON(http.StatusOK, ToRecord(id))
}

type themeBody struct {
	Theme Theme `json:"theme"`
}

// GetTheme returns the theme of the caller's session, or the shared one.
func (h *Handler) GetTheme(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := h.themes(ctx).Get(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, themeBody{Theme: t})
}

// SetTheme validates and stores the theme.
func (h *Handler) SetTheme(c echo.Context) error {
	var body themeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !body.Theme.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "theme must be light or dark")
	}
	ctx := c.Request().Context()
	if err := h.themes(ctx).Set(ctx, body.Theme); err != nil {
		if errors.Is(err, ErrStorage) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, body)
}
