package identity

import (
	"context"

	"github.com/goliatone/go-errors"
)

// AccountTracker is a store we can use to retrieve accounts during login
type AccountTracker interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	TrackAttemptedLogin(ctx context.Context, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account) error
}

// AccountProvider resolves identities against the credential store
type AccountProvider struct {
	store     AccountTracker
	Validator func(*Account) error
	logger    Logger
}

// MaxLoginAttempts is the maximum number of attempts an account gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// NewAccountProvider will create a new AccountProvider
func NewAccountProvider(store AccountTracker) *AccountProvider {
	return &AccountProvider{
		store:     store,
		logger:    defLogger{},
		Validator: defaultValidator,
	}
}

func (p *AccountProvider) WithLogger(l Logger) *AccountProvider {
	if l != nil {
		p.logger = l
	}
	return p
}

func (p *AccountProvider) validate(account *Account) error {
	if p.Validator != nil {
		return p.Validator(account)
	}
	return defaultValidator(account)
}

// VerifyIdentity will find the account, compare the password, and return
// the identity. Local password verification is only valid once the account
// has entered the migration window; delegated accounts fail closed with the
// same error as a wrong password so the response is not an oracle.
func (p AccountProvider) VerifyIdentity(ctx context.Context, email, password string) (Identity, error) {
	account, err := p.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve account during verification")
	}

	if err := ensureAuthenticatableAccount(account); err != nil {
		return nil, err
	}

	if !account.AcceptsLocalLogin() || !account.HasLocalCredentials() {
		p.logger.Warn("local login rejected for delegated account", "email", account.Email)
		return nil, ErrMismatchedHashAndPassword
	}

	if account.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*account.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			account.LoginAttempts = 0
		}
	}

	// if we have too many attempts in the given window, cool off!
	if account.LoginAttempts > MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		// We have to increment the login_attempts counter and login_attempt_at
		if err2 := p.store.TrackAttemptedLogin(ctx, account); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}

		return nil, ErrMismatchedHashAndPassword
	}

	// reset the login_attempts counter and login_attempt_at
	if err := p.store.TrackSuccessfulLogin(ctx, account); err != nil {
		p.logger.Error("failed to track successful login", "error", err)
	}

	if err := p.validate(account); err != nil {
		return nil, err
	}

	return NewIdentityFromAccount(account), nil
}

// FindIdentityByEmail resolves an identity without credential verification.
func (p AccountProvider) FindIdentityByEmail(ctx context.Context, email string) (Identity, error) {
	account, err := p.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}

	if err := ensureAuthenticatableAccount(account); err != nil {
		return nil, err
	}

	if err := p.validate(account); err != nil {
		return nil, err
	}

	return NewIdentityFromAccount(account), nil
}

func defaultValidator(a *Account) error {
	switch a.Role {
	case RoleAdmin, RoleManager, RoleMember:
		return nil
	default:
		return errors.New("account has an unknown or invalid role", errors.CategoryAuth).
			WithTextCode("INVALID_ROLE").
			WithMetadata(map[string]any{"role": a.Role, "account_id": a.ID.String()})
	}
}

func ensureAuthenticatableAccount(account *Account) error {
	if account == nil {
		return ErrIdentityNotFound
	}

	account.EnsureDefaults()
	return statusAuthError(account.Status)
}

func statusAuthError(status AccountStatus) error {
	switch status {
	case AccountStatusSuspended:
		return ErrAccountSuspended
	case AccountStatusPending:
		return ErrAccountPendingActivation
	default:
		return nil
	}
}
