package clerk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	identity "github.com/complyport/go-identity"
)

// LegacyUser is the strict shape coerced from Clerk's loosely structured
// user payloads. Only the fields the migration needs survive the boundary.
type LegacyUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Client calls the Clerk backend API. It is the only component that talks
// to the external provider; everything inward of it sees typed records.
type Client struct {
	config Config
	http   *http.Client
	logger identity.Logger
}

// NewClient creates a backend API client from the config.
func NewClient(cfg Config, logger identity.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("clerk: secret key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout()}
	}

	if logger == nil {
		logger = identity.DefaultLogger()
	}

	return &Client{
		config: cfg,
		http:   httpClient,
		logger: logger,
	}, nil
}

// UserByEmail looks up the legacy identity by email. A missing user is a
// not-found error; transport or payload failures surface as provider
// unavailability so the caller's retry budget applies.
func (c *Client) UserByEmail(ctx context.Context, email string) (*LegacyUser, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("clerk: email is required")
	}

	endpoint := fmt.Sprintf("%s/users?email_address=%s&limit=1", c.config.apiBaseURL(), url.QueryEscape(email))

	var payload []map[string]any
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		clone := identity.ErrIdentityNotFound.Clone()
		return nil, clone.WithMetadata(map[string]any{
			"provider": "clerk",
			"email":    email,
		})
	}

	user, err := coerceUser(payload[0])
	if err != nil {
		c.logger.Error("clerk user payload failed coercion", "email", email, "error", err)
		return nil, providerUnavailable(err, map[string]any{
			"email":  email,
			"reason": "malformed provider payload",
		})
	}

	return user, nil
}

// CountUsers returns the provider's total user count. Used by rollout
// reporting; callers tolerate failure independently of the rest of the
// report.
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	endpoint := c.config.apiBaseURL() + "/users/count"

	var payload struct {
		TotalCount int `json:"total_count"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return 0, err
	}

	return payload.TotalCount, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providerUnavailable(err, nil)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return providerUnavailable(err, nil)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return providerUnavailable(err, nil)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Warn("clerk API returned non-success status", "status", res.StatusCode, "url", endpoint)
		return providerUnavailable(fmt.Errorf("clerk: unexpected status %d", res.StatusCode), map[string]any{
			"status": res.StatusCode,
		})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return providerUnavailable(err, map[string]any{
			"reason": "undecodable provider payload",
		})
	}

	return nil
}

// coerceUser validates and narrows a loose user payload into LegacyUser,
// failing fast rather than propagating untyped data inward.
func coerceUser(raw map[string]any) (*LegacyUser, error) {
	id := stringField(raw, "id")
	if id == "" {
		return nil, fmt.Errorf("clerk: user payload missing id")
	}

	email := primaryEmail(raw)
	if email == "" {
		return nil, fmt.Errorf("clerk: user payload missing email address")
	}

	return &LegacyUser{
		ID:        id,
		Email:     strings.ToLower(email),
		FirstName: stringField(raw, "first_name"),
		LastName:  stringField(raw, "last_name"),
	}, nil
}

// primaryEmail resolves the address flagged by primary_email_address_id,
// falling back to the first entry when the flag is absent.
func primaryEmail(raw map[string]any) string {
	addresses, ok := raw["email_addresses"].([]any)
	if !ok || len(addresses) == 0 {
		return ""
	}

	primaryID := stringField(raw, "primary_email_address_id")

	first := ""
	for _, entry := range addresses {
		address, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		value := stringField(address, "email_address")
		if value == "" {
			continue
		}
		if first == "" {
			first = value
		}
		if primaryID != "" && stringField(address, "id") == primaryID {
			return value
		}
	}

	return first
}

func stringField(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	if value, ok := raw[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func providerUnavailable(cause error, metadata map[string]any) error {
	clone := identity.ErrExternalProviderUnavailable.Clone()
	clone.Source = cause

	meta := map[string]any{"provider": "clerk"}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	for key, value := range metadata {
		meta[key] = value
	}

	return clone.WithMetadata(meta)
}
