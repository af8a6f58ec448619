package identity

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and validates locally signed session tokens
type TokenService interface {
	TokenValidator
	Issue(identity Identity, mode AuthMode, ttl time.Duration) (string, error)
	SignClaims(claims *SessionClaims) (string, error)
}

// TokenServiceImpl implements the TokenService interface using an RSA key
// pair: RS256 signatures from the private key, verification with only the
// public key so stateless verifiers never hold signing material.
type TokenServiceImpl struct {
	keys     *KeyPair
	ttl      time.Duration
	issuer   string
	audience jwt.ClaimStrings
	logger   Logger
}

// NewTokenService creates a new TokenService instance. The key pair is
// loaded once at process start and treated as read-only afterwards.
func NewTokenService(keys *KeyPair, ttl time.Duration, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		keys:     keys,
		ttl:      ttl,
		issuer:   issuer,
		audience: audience,
		logger:   logger,
	}
}

// Issue creates a session token for the identity, embedding subject, role,
// auth mode, and the expiry window.
func (ts *TokenServiceImpl) Issue(identity Identity, mode AuthMode, ttl time.Duration) (string, error) {
	if identity == nil {
		return "", errors.New("identity is required", errors.CategoryBadInput)
	}

	if ttl <= 0 {
		ttl = ts.ttl
	}

	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.claimAudience(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AccountRole: identity.Role(),
		AccountMode: string(mode),
	}

	ensureTokenID(&claims.RegisteredClaims)

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary session claims using the configured private key.
func (ts *TokenServiceImpl) SignClaims(claims *SessionClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}
	if ts.keys == nil || ts.keys.Private == nil {
		return "", errors.New("token service has no private key", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	signedString, err := token.SignedString(ts.keys.Private)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session token")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims.
// Errors are typed: expired, bad signature, and malformed are distinct.
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	if ts.keys == nil || ts.keys.Public == nil {
		return nil, errors.New("token service has no public key", errors.CategoryInternal)
	}
	return validateWithPublicKey(tokenString, ts.keys.Public, ts.issuer, ts.audience, ts.logger)
}

// TokenVerifier validates tokens with only the public key. Use it in
// processes that must never hold signing material.
type TokenVerifier struct {
	public   *rsa.PublicKey
	issuer   string
	audience jwt.ClaimStrings
	logger   Logger
}

// NewTokenVerifier creates a verify-only validator from the public key.
func NewTokenVerifier(public *rsa.PublicKey, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenVerifier {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenVerifier{
		public:   public,
		issuer:   issuer,
		audience: audience,
		logger:   logger,
	}
}

// Validate satisfies the TokenValidator interface.
func (tv *TokenVerifier) Validate(tokenString string) (AuthClaims, error) {
	if tv.public == nil {
		return nil, errors.New("token verifier has no public key", errors.CategoryInternal)
	}
	return validateWithPublicKey(tokenString, tv.public, tv.issuer, tv.audience, tv.logger)
}

func validateWithPublicKey(tokenString string, public *rsa.PublicKey, issuer string, audience jwt.ClaimStrings, logger Logger) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 1+len(audience))
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	for _, aud := range audience {
		parserOptions = append(parserOptions, jwt.WithAudience(aud))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			logger.Error("token validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, ErrTokenBadSignature
		}
		return public, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.Wrap(err, ErrTokenBadSignature.Category, ErrTokenBadSignature.Message).
				WithTextCode(ErrTokenBadSignature.TextCode).
				WithCode(errors.CodeUnauthorized)
		default:
			return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
				WithTextCode(ErrTokenMalformed.TextCode).
				WithCode(errors.CodeUnauthorized)
		}
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	logger.Error("token validate could not decode or validate claims")
	return nil, ErrUnableToMapClaims
}

func (ts *TokenServiceImpl) claimAudience() jwt.ClaimStrings {
	if len(ts.audience) == 0 {
		return nil
	}
	aud := make(jwt.ClaimStrings, len(ts.audience))
	copy(aud, ts.audience)
	return aud
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
