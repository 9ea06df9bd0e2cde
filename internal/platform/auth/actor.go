package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

const (
	RolePlatformOperator = "platform_operator"
	RoleTenantAdmin      = "tenant_admin"
	RoleDoctor           = "doctor"
	RoleTechnician       = "technician"
)

// Actor is the authenticated caller of a record operation.
type Actor struct {
	ID        string
	Role      string
	Tenants   tenant.Association
	IP        string
	UserAgent string
}

func (a Actor) PlatformOperator() bool { return a.Role == RolePlatformOperator }

func (a Actor) TenantAssociation() tenant.Association {
	if a.Tenants == nil {
		return tenant.None{}
	}
	return a.Tenants
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

func UserIDFromContext(ctx context.Context) string {
	a, _ := ActorFromContext(ctx)
	return a.ID
}

// ActorFromEcho returns the request's actor or a 401.
func ActorFromEcho(c echo.Context) (Actor, error) {
	a, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return a, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return a, nil
}
