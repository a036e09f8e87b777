package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/entnt/dental-connect/internal/domain/session"
)

const issuer = "dental-connect"

// Claims binds a bearer token to a session. The identity is informational;
// the session provider stays the source of truth so a logout invalidates
// every token of the session.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string       `json:"sid"`
	Role      session.Role `json:"role"`
}

// JWTIssuer signs HS256 session tokens. Tokens carry no expiry; a session
// ends only on logout.
type JWTIssuer struct {
	key []byte
	now func() time.Time
}

// NewJWTIssuer signs and verifies session tokens with signingKey.
func NewJWTIssuer(signingKey []byte) *JWTIssuer {
	return &JWTIssuer{key: signingKey, now: time.Now}
}

// Issue returns an HS256 token binding sid to id.
func (i *JWTIssuer) Issue(sid string, id session.Identity) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  id.Email(),
			IssuedAt: jwt.NewNumericDate(i.now()),
		},
		SessionID: sid,
		Role:      id.Role(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenStr and returns its claims.
func (i *JWTIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, fmt.Errorf("token has no session")
	}
	return claims, nil
}

// Authenticate resolves the session of a request from its bearer token, or
// from the access_token query parameter for websocket upgrades. Requests
// without a token pass through anonymously; a bad token is rejected.
func Authenticate(tokens *JWTIssuer, sessions *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			if tokenStr == "" {
				return next(c)
			}

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			provider := sessions.Open(ctx, claims.SessionID)
			ctx = session.NewContext(ctx, session.Handle{ID: claims.SessionID, Provider: provider})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return c.QueryParam("access_token"), nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}
