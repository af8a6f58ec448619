package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents structured session claims with role and mode checks
type AuthClaims interface {
	Subject() string
	AccountID() string
	Role() string
	Mode() AuthMode
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// SessionClaims is the concrete implementation of AuthClaims
type SessionClaims struct {
	jwt.RegisteredClaims
	AccountRole string         `json:"role,omitempty"`
	AccountMode string         `json:"mode,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"` // extension payload
}

// Verify interface compliance
var _ AuthClaims = (*SessionClaims)(nil)

// Subject returns the subject claim
func (c *SessionClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// AccountID returns the account ID carried in the subject claim
func (c *SessionClaims) AccountID() string {
	return c.Subject()
}

// Role returns the account role
func (c *SessionClaims) Role() string {
	return c.AccountRole
}

// Mode returns the auth mode recorded when the token was issued
func (c *SessionClaims) Mode() AuthMode {
	return AuthMode(c.AccountMode)
}

// HasRole checks if the claims carry a specific role
func (c *SessionClaims) HasRole(role string) bool {
	return c.AccountRole == role
}

// IsAtLeast checks if the claims' role is at least the minimum required role
func (c *SessionClaims) IsAtLeast(minRole string) bool {
	return Role(c.AccountRole).IsAtLeast(Role(minRole))
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ClaimsMetadata exposes metadata extensions for optional context enrichment.
func (c *SessionClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}
