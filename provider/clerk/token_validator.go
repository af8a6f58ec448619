package clerk

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	identity "github.com/complyport/go-identity"
)

// TokenValidator validates Clerk-issued session JWTs using the tenant's
// JWKS. Claims map into identity.AuthClaims with delegated mode so the
// authorization gate resolves the local account through the legacy linkage.
type TokenValidator struct {
	config Config
	jwks   *keyfunc.JWKS
	logger identity.Logger
}

var _ identity.TokenValidator = (*TokenValidator)(nil)

// NewTokenValidator creates a JWKS-backed validator for Clerk tokens. The
// key set refreshes in the background for the validator's lifetime.
func NewTokenValidator(cfg Config, logger identity.Logger) (*TokenValidator, error) {
	jwksURL := cfg.jwksURL()
	if jwksURL == "" {
		return nil, fmt.Errorf("clerk: issuer or domain is required")
	}

	if logger == nil {
		logger = identity.DefaultLogger()
	}

	refreshInterval := cfg.CacheTTL
	if refreshInterval == 0 {
		refreshInterval = 5 * time.Minute
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   refreshInterval,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("clerk JWKS background refresh failed", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clerk: failed to fetch JWKS: %w", err)
	}

	return &TokenValidator{
		config: cfg,
		jwks:   jwks,
		logger: logger,
	}, nil
}

// Validate implements identity.TokenValidator.
func (v *TokenValidator) Validate(tokenString string) (identity.AuthClaims, error) {
	claims := &identity.SessionClaims{}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if issuer := v.config.issuerURL(); issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, parserOptions...)
	if err != nil {
		return nil, normalizeValidationError(err)
	}

	if !token.Valid {
		return nil, identity.ErrTokenMalformed
	}

	return v.mapClaims(claims), nil
}

// Close stops the background JWKS refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func (v *TokenValidator) mapClaims(claims *identity.SessionClaims) *identity.SessionClaims {
	claims.AccountMode = string(identity.AuthModeDelegated)

	if claims.AccountRole == "" {
		role := v.config.DefaultRole
		if role == "" {
			role = string(identity.RoleMember)
		}
		claims.AccountRole = role
	}

	if claims.Metadata == nil {
		claims.Metadata = map[string]any{}
	}
	claims.Metadata["legacy_provider"] = "clerk"

	return claims
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}

	clone := identity.ErrTokenMalformed.Clone()
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		clone = identity.ErrTokenExpired.Clone()
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		clone = identity.ErrTokenBadSignature.Clone()
	}

	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"provider": "clerk",
		"cause":    err.Error(),
	})
}
