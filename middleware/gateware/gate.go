package gateware

import (
	"context"
	"strings"

	"github.com/goliatone/go-router"

	identity "github.com/complyport/go-identity"
)

var defaultTokenLookup = "header:" + router.HeaderAuthorization

// ClaimsAuthorizer cross-checks structurally valid claims against the
// account's current auth mode and yields the verified caller pair.
type ClaimsAuthorizer interface {
	AuthorizeClaims(ctx context.Context, claims identity.AuthClaims) (identity.Caller, error)
}

// ValidationListener is invoked after a token has been validated but before
// authorization checks.
type ValidationListener func(ctx router.Context, claims identity.AuthClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string

	// TokenValidator is required. During the migration window this is a
	// MultiTokenValidator combining the local verifier with the legacy
	// provider's validator.
	TokenValidator identity.TokenValidator

	// Authorizer runs the mode consistency guard and resolves the caller.
	// When set, the verified pair is placed on the request context; the
	// raw token never travels further downstream.
	Authorizer ClaimsAuthorizer

	// RoleChecker is an optional function to validate roles against custom logic
	RoleChecker func(identity.AuthClaims, string) bool
	// RequiredRole specifies an exact role that must be present
	RequiredRole string
	// MinimumRole specifies the minimum role level required (uses role hierarchy)
	MinimumRole string

	// ValidationListeners are invoked after token validation succeeds. Use them to
	// emit events or perform bookkeeping before the request proceeds.
	ValidationListeners []ValidationListener
}

func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := performAuthorizationChecks(claims, cfg); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if cfg.Authorizer != nil {
				caller, err := cfg.Authorizer.AuthorizeClaims(ctx.Context(), claims)
				if err != nil {
					return cfg.ErrorHandler(ctx, err)
				}

				stdCtx := identity.WithCaller(ctx.Context(), caller)
				stdCtx = identity.WithClaimsContext(stdCtx, claims)
				ctx.SetContext(stdCtx)
			}

			ctx.Locals(cfg.ContextKey, claims)

			return cfg.SuccessHandler(ctx)
		}
	}
}

// performAuthorizationChecks performs RBAC authorization checks using the configured options
func performAuthorizationChecks(claims identity.AuthClaims, cfg Config) error {
	if cfg.RequiredRole == "" && cfg.MinimumRole == "" && cfg.RoleChecker == nil {
		return nil
	}

	if cfg.RequiredRole != "" {
		if !claims.HasRole(cfg.RequiredRole) {
			return identity.ErrForbidden.Clone().WithMetadata(map[string]any{
				"required_role": cfg.RequiredRole,
			})
		}
	}

	// user has at least the minimum role level?
	if cfg.MinimumRole != "" {
		if !claims.IsAtLeast(cfg.MinimumRole) {
			return identity.ErrForbidden.Clone().WithMetadata(map[string]any{
				"minimum_role": cfg.MinimumRole,
			})
		}
	}

	// use custom role checker if provided
	if cfg.RoleChecker != nil {
		roleToCheck := cfg.RequiredRole
		if roleToCheck == "" {
			roleToCheck = cfg.MinimumRole
		}

		if roleToCheck != "" && !cfg.RoleChecker(claims, roleToCheck) {
			return identity.ErrForbidden.Clone().WithMetadata(map[string]any{
				"checked_role": roleToCheck,
			})
		}
	}

	return nil
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	if raw == "" {
		return "", missingCredential(err)
	}

	return raw, nil
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.TokenValidator == nil {
		panic("IDENTITY: gate middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "claims"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// DefaultErrorHandler maps typed auth failures onto access denial
// responses. Missing or insufficient role is a distinct denial from a bad
// credential.
func DefaultErrorHandler(c router.Context, err error) error {
	switch {
	case identity.IsForbiddenError(err):
		return c.JSON(router.StatusForbidden, map[string]string{
			"error": "insufficient role",
		})
	case identity.IsTokenExpiredError(err):
		return c.JSON(router.StatusUnauthorized, map[string]string{
			"error": "token expired",
		})
	default:
		return c.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}
}

// ClaimsFromRouterContext retrieves validated claims stored by the
// middleware under the context key.
func ClaimsFromRouterContext(ctx router.Context, key string) (identity.AuthClaims, bool) {
	value := ctx.Locals(key)
	if value == nil {
		return nil, false
	}

	claims, ok := value.(identity.AuthClaims)
	return claims, ok
}

func missingCredential(cause error) error {
	metadata := map[string]any{}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	return identity.ErrUnauthenticated.Clone().WithMetadata(metadata)
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims identity.AuthClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:session,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader returns a function that extracts token from the request header.
func tokenFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		authScheme = strings.TrimSpace(authScheme)
		l := len(authScheme)
		if l == 0 {
			return "", identity.ErrUnauthenticated
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", identity.ErrUnauthenticated
	}
}

// tokenFromQuery returns a function that extracts token from the query string.
func tokenFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", identity.ErrUnauthenticated
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts token from the url param string.
func tokenFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", identity.ErrUnauthenticated
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts token from the named cookie.
func tokenFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", identity.ErrUnauthenticated
		}
		return token, nil
	}
}
