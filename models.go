package identity

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the account's authorization role
type Role string

const (
	// RoleMember is an organization member (i.e. view own records)
	RoleMember Role = "member"
	// RoleManager is an organization manager (i.e. view, edit org records)
	RoleManager Role = "manager"
	// RoleAdmin is a platform administrator (i.e. everything, incl. migration and reporting)
	RoleAdmin Role = "admin"
)

// AuthMode tracks which authentication back-end is authoritative for an account.
type AuthMode string

const (
	// AuthModeDelegated means only the legacy hosted provider authenticates the account.
	AuthModeDelegated AuthMode = "delegated"
	// AuthModeMigrating means both the legacy session and local credentials are valid.
	AuthModeMigrating AuthMode = "migrating"
	// AuthModeLocal means only locally issued credentials are trusted.
	AuthModeLocal AuthMode = "local"
)

// AccountStatus is the account's lifecycle status
type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "pending_activation"
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Account is the account model. Email is the cross-system join key with the
// legacy provider; LegacyProviderID is a lookup-only back-reference.
type Account struct {
	bun.BaseModel      `bun:"table:accounts,alias:acc"`
	ID                 uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email              string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Role               Role           `bun:"account_role,notnull" json:"account_role,omitempty"`
	AuthMode           AuthMode       `bun:"auth_mode,notnull" json:"auth_mode,omitempty"`
	Status             AccountStatus  `bun:"status,notnull" json:"status,omitempty"`
	PasswordHash       string         `bun:"password_hash" json:"-"`
	MustChangePassword bool           `bun:"must_change_password" json:"must_change_password,omitempty"`
	LegacyProviderID   string         `bun:"legacy_provider_id,nullzero" json:"legacy_provider_id,omitempty"`
	MigratedAt         *time.Time     `bun:"migrated_at,nullzero" json:"migrated_at,omitempty"`
	MigratedBy         string         `bun:"migrated_by,nullzero" json:"migrated_by,omitempty"`
	LoginAttempts      int            `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt     *time.Time     `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt         *time.Time     `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	Metadata           map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt          *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt          *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureDefaults backfills mode and status for records created before the
// migration columns existed.
func (a *Account) EnsureDefaults() {
	if a.AuthMode == "" {
		a.AuthMode = AuthModeDelegated
	}
	if a.Status == "" {
		a.Status = AccountStatusActive
	}
}

// Validate will run validation rules
func (a Account) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(
			&a.Email,
			validation.Required,
			validation.Length(6, 100),
			is.Email,
		),
		validation.Field(
			&a.Role,
			validation.Required,
			validation.In(RoleMember, RoleManager, RoleAdmin),
		),
		validation.Field(
			&a.AuthMode,
			validation.Required,
			validation.In(AuthModeDelegated, AuthModeMigrating, AuthModeLocal),
		),
		validation.Field(
			&a.Status,
			validation.Required,
			validation.In(AccountStatusPending, AccountStatusActive, AccountStatusSuspended),
		),
	)
}

// HasLocalCredentials reports whether a local password has been provisioned.
func (a *Account) HasLocalCredentials() bool {
	return a.PasswordHash != ""
}

// AcceptsLocalLogin reports whether local password authentication is valid
// for the account's current mode.
func (a *Account) AcceptsLocalLogin() bool {
	return a.AuthMode == AuthModeMigrating || a.AuthMode == AuthModeLocal
}

// AcceptsLegacySession reports whether the legacy provider's session is
// still trusted for the account.
func (a *Account) AcceptsLegacySession() bool {
	return a.AuthMode == AuthModeDelegated || a.AuthMode == AuthModeMigrating
}

// AddMetadata will append information to a metadata attribute
func (a *Account) AddMetadata(key string, val any) *Account {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = val
	return a
}
