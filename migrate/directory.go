package migrate

import (
	"context"

	"github.com/complyport/go-identity/provider/clerk"
)

// LegacyRecord is the provider identity the orchestrator needs: a stable
// ID to link against and the join-key email.
type LegacyRecord struct {
	ID    string
	Email string
}

// LegacyDirectory looks up identities at the external provider. Lookups
// may fail transiently; the orchestrator applies its retry budget around
// them.
type LegacyDirectory interface {
	LookupByEmail(ctx context.Context, email string) (*LegacyRecord, error)
}

// LegacyDirectoryFunc adapts a function to the LegacyDirectory interface.
type LegacyDirectoryFunc func(ctx context.Context, email string) (*LegacyRecord, error)

func (f LegacyDirectoryFunc) LookupByEmail(ctx context.Context, email string) (*LegacyRecord, error) {
	return f(ctx, email)
}

// NewClerkDirectory adapts a Clerk API client to the directory contract.
func NewClerkDirectory(client *clerk.Client) LegacyDirectory {
	return LegacyDirectoryFunc(func(ctx context.Context, email string) (*LegacyRecord, error) {
		user, err := client.UserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return &LegacyRecord{
			ID:    user.ID,
			Email: user.Email,
		}, nil
	})
}
