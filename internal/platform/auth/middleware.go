package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

// Claims carries the identity fields issued by the login service. Tenants
// is kept raw because issuers disagree on its shape.
type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role"`
	Tenants any    `json:"tenants,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			return authenticate(c, cfg, authHeader, next)
		}
	}
}

func authenticate(c echo.Context, cfg JWTConfig, authHeader string, next echo.HandlerFunc) error {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
	}

	assoc, err := tenant.ParseAssociation(claims.Tenants)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid tenant claim")
	}

	setActor(c, Actor{
		ID:      claims.Subject,
		Role:    claims.Role,
		Tenants: assoc,
	})
	return next(c)
}

// DevActorID is the actor used by DevAuthMiddleware for anonymous requests.
var DevActorID = uuid.MustParse("00000000-0000-4000-8000-000000000001").String()

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a token run as a platform operator; requests with one are
// validated like JWTMiddleware does.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" || len(cfg.SigningKey) == 0 {
				setActor(c, Actor{ID: DevActorID, Role: RolePlatformOperator, Tenants: tenant.None{}})
				return next(c)
			}
			return authenticate(c, cfg, authHeader, next)
		}
	}
}

// setActor completes the actor with request metadata and stores it on the
// request context.
func setActor(c echo.Context, a Actor) {
	req := c.Request()
	a.IP = c.RealIP()
	a.UserAgent = req.UserAgent()
	c.SetRequest(req.WithContext(WithActor(req.Context(), a)))
}
