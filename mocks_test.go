package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	identity "github.com/complyport/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIdentity implements identity.Identity for testing
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockIdentity) Email() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockIdentity) Role() string {
	args := m.Called()
	return args.String(0)
}

// MockLogger implements identity.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

// quietMockLogger returns a MockLogger that swallows every level.
func quietMockLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debug", mock.Anything, mock.Anything).Maybe()
	logger.On("Info", mock.Anything, mock.Anything).Maybe()
	logger.On("Warn", mock.Anything, mock.Anything).Maybe()
	logger.On("Error", mock.Anything, mock.Anything).Maybe()
	return logger
}

// staticIdentity is a plain value implementation of ModeAwareIdentity for
// tests that do not care about call assertions.
type staticIdentity struct {
	id    string
	email string
	role  string
	mode  identity.AuthMode
}

func (s staticIdentity) ID() string                 { return s.id }
func (s staticIdentity) Email() string              { return s.email }
func (s staticIdentity) Role() string               { return s.role }
func (s staticIdentity) AuthMode() identity.AuthMode { return s.mode }

// memorySink captures activity events for assertions.
type memorySink struct {
	mu     sync.Mutex
	err    error
	events []identity.ActivityEvent
}

func (s *memorySink) Record(_ context.Context, event identity.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *memorySink) Events() []identity.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memorySink) EventsOfType(eventType identity.ActivityEventType) []identity.ActivityEvent {
	var out []identity.ActivityEvent
	for _, event := range s.Events() {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// fakeAccountTracker is an in-memory AccountTracker for provider tests.
type fakeAccountTracker struct {
	mu         sync.Mutex
	account    *identity.Account
	getErr     error
	attemptErr error
	successErr error
	attempted  int
	succeeded  int
}

func (f *fakeAccountTracker) GetByEmail(_ context.Context, email string) (*identity.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.account, nil
}

func (f *fakeAccountTracker) TrackAttemptedLogin(_ context.Context, account *identity.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempted++
	account.LoginAttempts++
	return f.attemptErr
}

func (f *fakeAccountTracker) TrackSuccessfulLogin(_ context.Context, account *identity.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded++
	account.LoginAttempts = 0
	return f.successErr
}

// fakeModeResolver answers GetModeByID from a static map.
type fakeModeResolver struct {
	modes map[uuid.UUID]identity.AuthMode
	err   error
}

func (f *fakeModeResolver) GetModeByID(_ context.Context, id uuid.UUID) (identity.AuthMode, error) {
	if f.err != nil {
		return "", f.err
	}
	mode, ok := f.modes[id]
	if !ok {
		return "", identity.ErrIdentityNotFound
	}
	return mode, nil
}

// fakeLegacyResolver maps external provider subjects to accounts.
type fakeLegacyResolver struct {
	accounts map[string]*identity.Account
}

func (f *fakeLegacyResolver) GetByLegacyProviderID(_ context.Context, legacyID string) (*identity.Account, error) {
	account, ok := f.accounts[legacyID]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	return account, nil
}

// testConfig implements identity.Config
type testConfig struct {
	ttl      int
	issuer   string
	audience []string
}

func (c testConfig) GetTokenTTL() time.Duration { return time.Duration(c.ttl) * time.Minute }
func (c testConfig) GetIssuer() string          { return c.issuer }
func (c testConfig) GetAudience() []string      { return c.audience }
func (c testConfig) GetTokenLookup() string     { return "header:Authorization" }
func (c testConfig) GetAuthScheme() string      { return "Bearer" }
func (c testConfig) GetContextKey() string      { return "claims" }

var (
	keyPairOnce sync.Once
	cachedKeys  *identity.KeyPair
	otherKeys   *identity.KeyPair
	keyPairErr  error
)

// testKeyPair returns a cached RSA key pair, generating it on first use so
// the whole suite pays the cost only once.
func testKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	keyPairOnce.Do(func() {
		cachedKeys, keyPairErr = identity.GenerateKeyPair(2048)
		if keyPairErr == nil {
			otherKeys, keyPairErr = identity.GenerateKeyPair(2048)
		}
	})
	require.NoError(t, keyPairErr)
	return cachedKeys
}

// otherKeyPair returns a second key pair for signature mismatch tests.
func otherKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	testKeyPair(t)
	return otherKeys
}
