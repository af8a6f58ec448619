package clerk

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBaseURL = "https://api.clerk.com/v1"

// Config holds Clerk configuration for token validation and API lookups.
type Config struct {
	// Domain is the Clerk frontend API domain
	// (e.g., "example.clerk.accounts.dev").
	Domain string

	// SecretKey authenticates backend API calls.
	SecretKey string

	// APIBaseURL overrides the backend API base URL (optional).
	// Default: "https://api.clerk.com/v1".
	APIBaseURL string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://{Domain}".
	Issuer string

	// Timeout bounds each backend API call.
	// Default: 10 seconds.
	Timeout time.Duration

	// CacheTTL is how long to cache JWKS keys.
	// Default: 5 minutes.
	CacheTTL time.Duration

	// DefaultRole is assigned to claims that carry no role of their own.
	// Default: member.
	DefaultRole string

	// HTTPClient overrides the client used for API calls (optional).
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain, secretKey string) Config {
	return Config{
		Domain:    domain,
		SecretKey: secretKey,
		Timeout:   10 * time.Second,
		CacheTTL:  5 * time.Minute,
	}
}

func (c Config) issuerURL() string {
	if c.Issuer != "" {
		return strings.TrimSuffix(strings.TrimSpace(c.Issuer), "/")
	}

	domain := strings.TrimSpace(c.Domain)
	if domain == "" {
		return ""
	}

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimSuffix(domain, "/")
	}

	return fmt.Sprintf("https://%s", strings.TrimSuffix(domain, "/"))
}

func (c Config) jwksURL() string {
	issuer := c.issuerURL()
	if issuer == "" {
		return ""
	}
	return issuer + "/.well-known/jwks.json"
}

func (c Config) apiBaseURL() string {
	base := strings.TrimSpace(c.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}
	return strings.TrimSuffix(base, "/")
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}
