package identity_test

import (
	"fmt"
	"testing"

	identity "github.com/complyport/go-identity"
	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	t.Run("each predicate matches only its error", func(t *testing.T) {
		assert.True(t, identity.IsTokenExpiredError(identity.ErrTokenExpired))
		assert.True(t, identity.IsMalformedError(identity.ErrTokenMalformed))
		assert.True(t, identity.IsMalformedError(identity.ErrTokenBadSignature))
		assert.True(t, identity.IsStaleAuthModeError(identity.ErrStaleAuthMode))
		assert.True(t, identity.IsDuplicateEmailError(identity.ErrDuplicateEmail))
		assert.True(t, identity.IsInvalidTransitionError(identity.ErrInvalidTransition))
		assert.True(t, identity.IsProviderUnavailableError(identity.ErrExternalProviderUnavailable))
		assert.True(t, identity.IsForbiddenError(identity.ErrForbidden))
		assert.True(t, identity.IsInvalidCredentialError(identity.ErrMismatchedHashAndPassword))

		assert.False(t, identity.IsTokenExpiredError(identity.ErrTokenMalformed))
		assert.False(t, identity.IsMalformedError(identity.ErrTokenExpired))
		assert.False(t, identity.IsStaleAuthModeError(identity.ErrTokenExpired))
		assert.False(t, identity.IsForbiddenError(identity.ErrUnauthenticated))
		assert.False(t, identity.IsInvalidCredentialError(identity.ErrTokenExpired))
	})

	t.Run("predicates survive metadata decoration", func(t *testing.T) {
		decorated := identity.ErrStaleAuthMode.WithMetadata(map[string]any{"account": "abc"})
		assert.True(t, identity.IsStaleAuthModeError(decorated))

		decorated = identity.ErrInvalidTransition.WithMetadata(map[string]any{"from": "local"})
		assert.True(t, identity.IsInvalidTransitionError(decorated))
	})

	t.Run("nil and foreign errors never match", func(t *testing.T) {
		assert.False(t, identity.IsTokenExpiredError(nil))
		assert.False(t, identity.IsStaleAuthModeError(nil))

		foreign := fmt.Errorf("connection reset")
		assert.False(t, identity.IsTokenExpiredError(foreign))
		assert.False(t, identity.IsDuplicateEmailError(foreign))
	})
}
