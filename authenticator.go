package identity

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// ModeResolver resolves an account's current auth mode at request time.
type ModeResolver interface {
	GetModeByID(ctx context.Context, id uuid.UUID) (AuthMode, error)
}

// LegacyAccountResolver links an external provider subject to the local
// account row. Delegated sessions carry the provider's subject, not the
// local account ID.
type LegacyAccountResolver interface {
	GetByLegacyProviderID(ctx context.Context, legacyID string) (*Account, error)
}

// Auther issues sessions for local credentials and authorizes validated
// claims against the account's current auth mode.
type Auther struct {
	provider       IdentityProvider
	keys           *KeyPair
	ttl            time.Duration
	issuer         string
	audience       []string
	logger         Logger
	tokenService   TokenService
	tokenValidator TokenValidator
	modeResolver   ModeResolver
	legacyResolver LegacyAccountResolver
	activitySink   ActivitySink
}

// NewAuthenticator returns a new Authenticator. The key pair is process-wide
// read-only state, constructed once and passed in explicitly.
func NewAuthenticator(provider IdentityProvider, keys *KeyPair, opts Config) *Auther {
	tokenService := NewTokenService(
		keys,
		opts.GetTokenTTL(),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
	)

	return &Auther{
		provider:     provider,
		keys:         keys,
		ttl:          opts.GetTokenTTL(),
		audience:     opts.GetAudience(),
		issuer:       opts.GetIssuer(),
		logger:       defLogger{},
		tokenService: tokenService,
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = logger
	s.tokenService = NewTokenService(
		s.keys,
		s.ttl,
		s.issuer,
		s.audience,
		logger,
	)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenValidator sets a custom token validator. During the migration
// window this is a MultiTokenValidator combining the local verifier with
// the legacy provider's JWKS validator.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	s.tokenValidator = validator
	return s
}

// WithModeResolver wires the store lookup for the stale-mode guard.
func (s *Auther) WithModeResolver(resolver ModeResolver) *Auther {
	s.modeResolver = resolver
	return s
}

// WithLegacyResolver wires the lookup that maps delegated session subjects
// to local accounts.
func (s *Auther) WithLegacyResolver(resolver LegacyAccountResolver) *Auther {
	s.legacyResolver = resolver
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies a local credential and issues a session token that embeds
// the account's auth mode at issuance time.
func (s *Auther) Login(ctx context.Context, email, password string) (string, error) {
	var err error
	var identity Identity

	if identity, err = s.provider.VerifyIdentity(ctx, email, password); err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return "", err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": email,
			"error": ErrIdentityNotFound.Error(),
		})
		return "", ErrIdentityNotFound
	}

	mode := AuthModeLocal
	if modeAware, ok := identity.(ModeAwareIdentity); ok {
		mode = modeAware.AuthMode()
	}

	token, err := s.tokenService.Issue(identity, mode, s.ttl)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"email": email,
		"mode":  mode,
	})

	return token, nil
}

// SessionFromToken validates a raw token and maps it into a Session.
func (s Auther) SessionFromToken(raw string) (Session, error) {
	validator := s.tokenValidator
	if validator == nil {
		validator = s.tokenService
	}

	claims, err := validator.Validate(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session, err := sessionFromAuthClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims", "error", err)
		return nil, err
	}

	return session, nil
}

// IdentityFromSession resolves the account behind a validated session.
func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	identity, err := s.provider.FindIdentityByEmail(ctx, session.GetAccountID())
	if err != nil {
		s.logger.Error("IdentityFromSession find identity: %s", err)
		return nil, err
	}

	return identity, nil
}

// AuthorizeClaims cross-checks structurally valid claims against the
// account's current auth mode and returns the verified caller pair.
//
// A locally issued token for an account still delegated should never have
// existed; it is rejected as a stale-mode invariant violation and logged
// for investigation. A legacy-provider token for an account already cut
// over to local is simply no longer trusted and prompts re-authentication.
func (s *Auther) AuthorizeClaims(ctx context.Context, claims AuthClaims) (Caller, error) {
	if claims.Mode() == AuthModeDelegated {
		return s.authorizeLegacyClaims(ctx, claims)
	}

	caller, err := CallerFromClaims(claims)
	if err != nil {
		return Caller{}, err
	}

	if s.modeResolver == nil {
		return caller, nil
	}

	currentMode, err := s.modeResolver.GetModeByID(ctx, caller.AccountID)
	if err != nil {
		s.logger.Error("AuthorizeClaims mode lookup failed", "account", caller.AccountID, "error", err)
		return Caller{}, ErrUnauthenticated.Clone().WithMetadata(map[string]any{
			"reason": "mode lookup failed",
		})
	}

	tokenMode := claims.Mode()

	if currentMode == AuthModeDelegated {
		s.emitAuthEvent(ctx, ActivityEventStaleModeRejected, ActorRef{Type: "system"}, caller.AccountID.String(), map[string]any{
			"token_mode":   tokenMode,
			"current_mode": currentMode,
		})
		return Caller{}, ErrStaleAuthMode.Clone().WithMetadata(map[string]any{
			"account": caller.AccountID.String(),
		})
	}

	return caller, nil
}

// authorizeLegacyClaims handles delegated sessions. The subject is the
// external provider's ID, so the local account is resolved through the
// legacy linkage. The session is trusted until the account goes local.
func (s *Auther) authorizeLegacyClaims(ctx context.Context, claims AuthClaims) (Caller, error) {
	if s.legacyResolver == nil {
		return Caller{}, ErrUnauthenticated.Clone().WithMetadata(map[string]any{
			"reason": "no legacy account resolver configured",
		})
	}

	account, err := s.legacyResolver.GetByLegacyProviderID(ctx, claims.Subject())
	if err != nil {
		s.logger.Warn("AuthorizeClaims unknown legacy subject", "subject", claims.Subject(), "error", err)
		return Caller{}, ErrUnauthenticated.Clone().WithMetadata(map[string]any{
			"reason": "unknown legacy subject",
		})
	}

	if account.AuthMode == AuthModeLocal {
		return Caller{}, ErrTokenExpired.Clone().WithMetadata(map[string]any{
			"reason": "legacy session no longer trusted for local account",
		})
	}

	return Caller{
		AccountID: account.ID,
		Role:      account.Role,
	}, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, accountID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		AccountID: accountID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "account",
	}
}
