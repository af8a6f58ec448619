package rollout

import (
	"github.com/goliatone/go-router"

	identity "github.com/complyport/go-identity"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the rollout report as a read-only admin surface.
type HTTPController struct {
	tracker *Tracker
	config  HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// Path for the report route (default: "/admin/rollout")
	Path string

	// ContextKey is the router locals key the gate middleware stores
	// validated claims under (default: "claims")
	ContextKey string

	// RequiredRole gates access to the report (default: admin)
	RequiredRole string
}

// NewHTTPController creates the rollout report controller.
func NewHTTPController(tracker *Tracker, cfg HTTPConfig) *HTTPController {
	if cfg.Path == "" {
		cfg.Path = "/admin/rollout"
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = "claims"
	}
	if cfg.RequiredRole == "" {
		cfg.RequiredRole = string(identity.RoleAdmin)
	}

	return &HTTPController{
		tracker: tracker,
		config:  cfg,
	}
}

// RegisterRoutes registers the report route.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get(c.config.Path, c.Report)
}

// Report returns the migration aggregation. Non-admin callers are refused
// with a role denial, not an authentication failure.
func (c *HTTPController) Report(ctx router.Context) error {
	claims, ok := c.claimsFromContext(ctx)
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	if !claims.IsAtLeast(c.config.RequiredRole) {
		return ctx.JSON(router.StatusForbidden, map[string]string{
			"error": "insufficient role",
		})
	}

	report, err := c.tracker.Report(ctx.Context())
	if err != nil {
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": "report generation failed",
		})
	}

	return ctx.JSON(router.StatusOK, report)
}

func (c *HTTPController) claimsFromContext(ctx router.Context) (identity.AuthClaims, bool) {
	value := ctx.Locals(c.config.ContextKey)
	if value == nil {
		return nil, false
	}

	claims, ok := value.(identity.AuthClaims)
	return claims, ok
}
