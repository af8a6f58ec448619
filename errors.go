package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	textCodeUnauthenticated     = "UNAUTHENTICATED"
	textCodeInvalidCredential   = "INVALID_CREDENTIAL"
	textCodeTokenExpired        = "TOKEN_EXPIRED"
	textCodeTokenBadSignature   = "TOKEN_BAD_SIGNATURE"
	textCodeTokenMalformed      = "TOKEN_MALFORMED"
	textCodeForbidden           = "FORBIDDEN"
	textCodeDuplicateEmail      = "DUPLICATE_EMAIL"
	textCodeInvalidTransition   = "INVALID_AUTH_MODE_TRANSITION"
	textCodeProviderUnavailable = "EXTERNAL_PROVIDER_UNAVAILABLE"
	textCodeStaleAuthMode       = "STALE_AUTH_MODE"
)

// ErrUnauthenticated is returned when no credential was presented or the
// credential could not be extracted from the request.
var ErrUnauthenticated = errors.New("authentication required", errors.CategoryAuth).
	WithTextCode(textCodeUnauthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for tokens past their validity window. Callers
// should prompt re-authentication; this is not treated as suspicious.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenBadSignature is returned when the signature does not verify
// against the configured public key. Potentially adversarial.
var ErrTokenBadSignature = errors.New("token signature mismatch", errors.CategoryAuth).
	WithTextCode(textCodeTokenBadSignature).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned when the token cannot be parsed at all.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned for a valid identity with an insufficient role.
var ErrForbidden = errors.New("insufficient role for operation", errors.CategoryAuthz).
	WithTextCode(textCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrDuplicateEmail is returned when account creation violates the unique
// email constraint.
var ErrDuplicateEmail = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(textCodeDuplicateEmail).
	WithCode(errors.CodeConflict)

// ErrInvalidTransition is returned when a requested auth mode change does
// not follow the monotonic delegated -> migrating -> local ordering.
var ErrInvalidTransition = errors.New("invalid auth mode transition", errors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(errors.CodeBadRequest)

// ErrExternalProviderUnavailable is returned when the legacy provider
// lookup or export failed after the retry budget was exhausted.
var ErrExternalProviderUnavailable = errors.New("legacy identity provider unavailable", errors.CategoryOperation).
	WithTextCode(textCodeProviderUnavailable).
	WithCode(errors.CodeInternal)

// ErrStaleAuthMode is returned when a structurally valid local token is
// presented for an account that is still delegated. The token should never
// have been issued; reject and log for investigation.
var ErrStaleAuthMode = errors.New("local token presented for delegated account", errors.CategoryAuth).
	WithTextCode(textCodeStaleAuthMode).
	WithCode(errors.CodeUnauthorized)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrMismatchedHashAndPassword is returned when password verification fails.
// Deliberately indistinguishable from an unknown email.
var ErrMismatchedHashAndPassword = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(textCodeInvalidCredential).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString rejects empty password input
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest)

// ErrTooManyLoginAttempts forces a cool-down after repeated failures
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryRateLimit).
	WithTextCode("TOO_MANY_LOGIN_ATTEMPTS")

// ErrAccountSuspended blocks authentication for suspended accounts
var ErrAccountSuspended = errors.New("account is suspended", errors.CategoryAuth).
	WithTextCode("ACCOUNT_SUSPENDED").
	WithCode(errors.CodeUnauthorized)

// ErrAccountPendingActivation blocks authentication until activation
var ErrAccountPendingActivation = errors.New("account is pending activation", errors.CategoryAuth).
	WithTextCode("ACCOUNT_PENDING_ACTIVATION").
	WithCode(errors.CodeUnauthorized)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = errors.New("unable to map claims", errors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return hasTextCode(err, textCodeTokenExpired) ||
		strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for unparseable or mis-signed tokens
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return hasTextCode(err, textCodeTokenMalformed) ||
		hasTextCode(err, textCodeTokenBadSignature) ||
		strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsInvalidCredentialError checks for failed password verification
func IsInvalidCredentialError(err error) bool {
	return hasTextCode(err, textCodeInvalidCredential)
}

// IsInvalidTransitionError checks for rejected auth mode changes
func IsInvalidTransitionError(err error) bool {
	return hasTextCode(err, textCodeInvalidTransition)
}

// IsStaleAuthModeError checks for the delegated-account consistency guard
func IsStaleAuthModeError(err error) bool {
	return hasTextCode(err, textCodeStaleAuthMode)
}

// IsDuplicateEmailError checks for the unique email constraint violation
func IsDuplicateEmailError(err error) bool {
	return hasTextCode(err, textCodeDuplicateEmail)
}

// IsProviderUnavailableError checks for exhausted legacy provider lookups
func IsProviderUnavailableError(err error) bool {
	return hasTextCode(err, textCodeProviderUnavailable)
}

// IsForbiddenError checks for role rejections
func IsForbiddenError(err error) bool {
	return hasTextCode(err, textCodeForbidden)
}
