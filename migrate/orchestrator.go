package migrate

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	identity "github.com/complyport/go-identity"
)

// AccountStore is the slice of the account repository the orchestrator
// needs. Provisioning and finalization are conditional store updates, so
// concurrent runs against the same account serialize there.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string, criteria ...repository.SelectCriteria) (*identity.Account, error)
	Register(ctx context.Context, account *identity.Account) (*identity.Account, error)
	ProvisionMigration(ctx context.Context, id uuid.UUID, passwordHash string) (*identity.Account, bool, error)
	FinalizeMigration(ctx context.Context, id uuid.UUID, actor string, at time.Time) (*identity.Account, bool, error)
	LinkLegacyProvider(ctx context.Context, id uuid.UUID, legacyID string) error
	ListByAuthMode(ctx context.Context, mode identity.AuthMode, limit int) ([]*identity.Account, error)
}

// Result reports the outcome of one account's migration step.
type Result struct {
	Email     string
	AccountID uuid.UUID
	Mode      identity.AuthMode
	Created   bool
	// Provisioned is true only when this run issued the credential; a
	// re-run against an already-moved account reports its mode with
	// Provisioned false.
	Provisioned bool
	// ProvisionalPassword is set only when this run generated the
	// credential. It is handed to the operator once and never stored.
	ProvisionalPassword string
	Err                 error
}

// Failed reports whether this account's migration step failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// BatchReport aggregates per-account outcomes of a batch run.
type BatchReport struct {
	Total      int
	Succeeded  int
	Failed     int
	Results    []Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// FailedResults returns only the accounts that did not complete.
func (r *BatchReport) FailedResults() []Result {
	var failed []Result
	for _, result := range r.Results {
		if result.Failed() {
			failed = append(failed, result)
		}
	}
	return failed
}

// Service drives per-account and batch migrations.
type Service struct {
	store       AccountStore
	directory   LegacyDirectory
	retry       *RetryPolicy
	concurrency int
	logger      identity.Logger
	sink        identity.ActivitySink
	now         func() time.Time

	newPassword  func() (string, error)
	hashPassword func(password string) (string, error)
}

// Option customizes the migration service.
type Option func(*Service)

// WithRetryPolicy overrides the backoff applied to legacy lookups.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(s *Service) {
		if policy != nil {
			s.retry = policy
		}
	}
}

// WithConcurrency bounds how many accounts a batch migrates in parallel.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger identity.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithActivitySink publishes migration events to the sink.
func WithActivitySink(sink identity.ActivitySink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithCredentialFactory overrides how provisional credentials are generated
// and hashed.
func WithCredentialFactory(generate func() (string, error), hash func(string) (string, error)) Option {
	return func(s *Service) {
		if generate != nil {
			s.newPassword = generate
		}
		if hash != nil {
			s.hashPassword = hash
		}
	}
}

// New creates a migration service over the account store and the legacy
// provider directory.
func New(store AccountStore, directory LegacyDirectory, opts ...Option) *Service {
	s := &Service{
		store:        store,
		directory:    directory,
		retry:        NewRetryPolicy(DefaultRetryConfig()),
		concurrency:  4,
		logger:       identity.DefaultLogger(),
		sink:         nil,
		now:          time.Now,
		newPassword:  identity.GenerateProvisionalPassword,
		hashPassword: identity.HashPassword,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AccountRunOption customizes a single account migration.
type AccountRunOption func(*accountRunOptions)

type accountRunOptions struct {
	password string
}

// WithProvisionalPassword uses an administrator-supplied credential instead
// of a generated one.
func WithProvisionalPassword(password string) AccountRunOption {
	return func(opts *accountRunOptions) {
		opts.password = password
	}
}

// MigrateAccount moves a single account from delegated into the dual
// validity window. The sequence is idempotent: accounts already migrating
// or local report their current mode without touching credentials.
func (s *Service) MigrateAccount(ctx context.Context, email string, actor identity.ActorRef, opts ...AccountRunOption) (Result, error) {
	runOpts := &accountRunOptions{}
	for _, opt := range opts {
		opt(runOpts)
	}

	result := Result{Email: email}

	if err := validateEmail(email); err != nil {
		result.Err = err
		return result, err
	}

	// Re-runs against an already-moved account must not depend on the
	// provider being reachable: check local state first.
	if existing, err := s.store.GetByEmail(ctx, email); err == nil {
		if existing.AuthMode != identity.AuthModeDelegated {
			result.AccountID = existing.ID
			result.Mode = existing.AuthMode
			return result, nil
		}
	} else if !repository.IsRecordNotFound(err) {
		result.Err = err
		s.recordFailure(ctx, actor, result)
		return result, err
	}

	legacy, err := s.lookupLegacy(ctx, email)
	if err != nil {
		result.Err = err
		s.recordFailure(ctx, actor, result)
		return result, err
	}

	account, created, err := s.ensureAccount(ctx, legacy)
	if err != nil {
		result.Err = err
		s.recordFailure(ctx, actor, result)
		return result, err
	}

	result.AccountID = account.ID
	result.Created = created
	result.Mode = account.AuthMode

	if account.AuthMode != identity.AuthModeDelegated {
		// A concurrent run finished the move between the check and here.
		return result, nil
	}

	password := runOpts.password
	generated := password == ""
	if generated {
		if password, err = s.newPassword(); err != nil {
			result.Err = err
			s.recordFailure(ctx, actor, result)
			return result, err
		}
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		result.Err = err
		s.recordFailure(ctx, actor, result)
		return result, err
	}

	updated, provisioned, err := s.store.ProvisionMigration(ctx, account.ID, hash)
	if err != nil {
		result.Err = err
		s.recordFailure(ctx, actor, result)
		return result, err
	}

	if !provisioned {
		// Lost the race to a concurrent run; report what won.
		mode, modeErr := s.currentMode(ctx, email)
		if modeErr == nil {
			result.Mode = mode
		}
		return result, nil
	}

	result.Mode = updated.AuthMode
	result.Provisioned = true
	if generated {
		result.ProvisionalPassword = password
	}

	s.recordActivity(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventAuthModeChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromMode:  identity.AuthModeDelegated,
		ToMode:    identity.AuthModeMigrating,
		Metadata: map[string]any{
			"email":              email,
			"legacy_provider_id": legacy.ID,
		},
	})

	return result, nil
}

// FinalizeAccount cuts a migrating account over to local-only credentials,
// stamping who migrated it and when. Finalizing an account already local is
// a no-op; finalizing one still delegated is an ordering violation.
func (s *Service) FinalizeAccount(ctx context.Context, email string, actor identity.ActorRef) (Result, error) {
	result := Result{Email: email}

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		result.Err = err
		return result, err
	}

	result.AccountID = account.ID
	result.Mode = account.AuthMode

	switch account.AuthMode {
	case identity.AuthModeLocal:
		return result, nil
	case identity.AuthModeDelegated:
		err = identity.ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"email":  email,
			"from":   identity.AuthModeDelegated,
			"to":     identity.AuthModeLocal,
			"reason": "credentials never provisioned",
		})
		result.Err = err
		return result, err
	}

	updated, finalized, err := s.store.FinalizeMigration(ctx, account.ID, actor.ID, s.now())
	if err != nil {
		result.Err = err
		s.recordFailure(ctx, actor, result)
		return result, err
	}

	if !finalized {
		mode, modeErr := s.currentMode(ctx, email)
		if modeErr == nil {
			result.Mode = mode
		}
		return result, nil
	}

	result.Mode = updated.AuthMode

	s.recordActivity(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventMigrationCompleted,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromMode:  identity.AuthModeMigrating,
		ToMode:    identity.AuthModeLocal,
		Metadata: map[string]any{
			"email": email,
		},
	})

	return result, nil
}

// MigrateBatch runs a set of accounts with bounded concurrency. A failure
// on one account never aborts the rest; failures land in the report. When
// the context is canceled, in-flight accounts finish and the remainder are
// reported as canceled.
func (s *Service) MigrateBatch(ctx context.Context, emails []string, actor identity.ActorRef) (*BatchReport, error) {
	report := &BatchReport{
		Total:     len(emails),
		StartedAt: s.now(),
	}

	results := make([]Result, len(emails))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)

	for i, email := range emails {
		i, email := i, email
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				results[i] = Result{Email: email, Err: err}
				return nil
			}

			result, err := s.MigrateAccount(egCtx, email, actor)
			if err != nil {
				s.logger.Warn("batch migration account failed", "email", email, "error", err)
			}
			results[i] = result
			return nil
		})
	}

	// Goroutines report failures through results, never through the group.
	_ = eg.Wait()

	report.FinishedAt = s.now()
	report.Results = results
	for _, result := range results {
		if result.Failed() {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	return report, ctx.Err()
}

// MigrateCohort migrates the oldest delegated accounts up to the cohort
// size.
func (s *Service) MigrateCohort(ctx context.Context, size int, actor identity.ActorRef) (*BatchReport, error) {
	accounts, err := s.store.ListByAuthMode(ctx, identity.AuthModeDelegated, size)
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(accounts))
	for _, account := range accounts {
		emails = append(emails, account.Email)
	}

	return s.MigrateBatch(ctx, emails, actor)
}

// lookupLegacy fetches the provider record, retrying transient failures
// with backoff. Non-transient errors abort immediately.
func (s *Service) lookupLegacy(ctx context.Context, email string) (*LegacyRecord, error) {
	attempts := 0
	for {
		record, err := s.directory.LookupByEmail(ctx, email)
		if err == nil {
			return record, nil
		}

		attempts++

		if !identity.IsProviderUnavailableError(err) {
			return nil, err
		}

		if !s.retry.ShouldRetry(attempts, err) {
			return nil, err
		}

		s.logger.Warn("legacy lookup failed, retrying",
			"email", email,
			"attempt", attempts,
			"error", err,
		)

		if err := s.retry.sleep(ctx, attempts); err != nil {
			return nil, err
		}
	}
}

// ensureAccount returns the local row for the legacy identity, creating it
// in delegated mode when absent and backfilling the provider linkage when
// missing.
func (s *Service) ensureAccount(ctx context.Context, legacy *LegacyRecord) (*identity.Account, bool, error) {
	account, err := s.store.GetByEmail(ctx, legacy.Email)
	if err == nil {
		if account.LegacyProviderID == "" {
			if linkErr := s.store.LinkLegacyProvider(ctx, account.ID, legacy.ID); linkErr != nil {
				return nil, false, linkErr
			}
			account.LegacyProviderID = legacy.ID
		}
		return account, false, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, false, err
	}

	record := &identity.Account{
		Email:            legacy.Email,
		Role:             identity.RoleMember,
		AuthMode:         identity.AuthModeDelegated,
		Status:           identity.AccountStatusActive,
		LegacyProviderID: legacy.ID,
	}

	// Deterministic IDs keep migration-created rows stable across re-runs
	// against different environments.
	if id, err := hashid.NewUUID(legacy.Email); err == nil {
		record.ID = id
	}

	created, err := s.store.Register(ctx, record)
	if err != nil {
		return nil, false, err
	}

	return created, true, nil
}

// validateEmail rejects malformed addresses before any store or provider
// round trip.
func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid email address")
	}
	return nil
}

func (s *Service) currentMode(ctx context.Context, email string) (identity.AuthMode, error) {
	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return account.AuthMode, nil
}

func (s *Service) recordFailure(ctx context.Context, actor identity.ActorRef, result Result) {
	metadata := map[string]any{
		"email": result.Email,
	}
	if result.Err != nil {
		metadata["error"] = result.Err.Error()
	}

	s.recordActivity(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventMigrationFailed,
		Actor:     actor,
		AccountID: result.AccountID.String(),
		Metadata:  metadata,
	})
}

func (s *Service) recordActivity(ctx context.Context, event identity.ActivityEvent) {
	if s.sink == nil {
		return
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error", "error", err)
	}
}
