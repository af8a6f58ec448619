package identity

// TokenValidator validates tokens and extracts claims without tying callers
// to a specific signing implementation.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(tokenString)
}

// MultiTokenValidator tries validators in order until one accepts the
// token. During the dual-validity migration window it composes the local
// verifier with the legacy provider's JWKS validator; the same composition
// carries a key-rotation window, where old and new public keys verify side
// by side.
//
// Only malformed and bad-signature results fall through to the next
// validator. An expired result is terminal: a token one validator minted
// and aged out must not be shopped to the others.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	m := &MultiTokenValidator{}
	return m.With(validators...)
}

// With returns a new composite extending the chain, preserving order. Used
// at rotation time to admit a second verification key without touching the
// existing chain.
func (m *MultiTokenValidator) With(validators ...TokenValidator) *MultiTokenValidator {
	combined := make([]TokenValidator, 0, len(m.validators)+len(validators))
	combined = append(combined, m.validators...)
	for _, v := range validators {
		if v != nil {
			combined = append(combined, v)
		}
	}
	return &MultiTokenValidator{validators: combined}
}

// Validate satisfies the TokenValidator interface.
func (m *MultiTokenValidator) Validate(tokenString string) (AuthClaims, error) {
	lastErr := error(nil)

	for _, validator := range m.validators {
		claims, err := validator.Validate(tokenString)
		switch {
		case err == nil:
			return claims, nil
		case IsMalformedError(err):
			lastErr = err
		default:
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = ErrTokenMalformed
	}
	return nil, lastErr
}
