package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProvisionMigrationSQL moves a single delegated account into the dual
// validity window. The auth_mode predicate is the serialization point:
// two concurrent attempts cannot both match, so only one provisions
// credentials and the other observes zero rows.
var ProvisionMigrationSQL = `UPDATE "accounts" AS "acc"
SET
	"auth_mode" = 'migrating',
	"password_hash" = ?,
	"must_change_password" = TRUE
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."auth_mode" = 'delegated'
RETURNING *;`

// FinalizeMigrationSQL cuts an account over to local-only auth. It refuses
// to finalize without a provisioned password hash, and it stamps
// migrated_at/migrated_by only if they are not already set.
var FinalizeMigrationSQL = `UPDATE "accounts" AS "acc"
SET
	"auth_mode" = 'local',
	"migrated_at" = COALESCE("migrated_at", ?),
	"migrated_by" = CASE WHEN "migrated_by" IS NULL OR "migrated_by" = '' THEN ? ELSE "migrated_by" END
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."auth_mode" = 'migrating'
AND "acc"."password_hash" <> ''
RETURNING *;`

var SetCredentialsSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?,
	"must_change_password" = ?
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
RETURNING *;`

var updateAuthModeSQL = `UPDATE "accounts" AS "acc"
SET
	"auth_mode" = ?,
	"migrated_at" = COALESCE("migrated_at", ?),
	"migrated_by" = CASE WHEN "migrated_by" IS NULL OR "migrated_by" = '' THEN ? ELSE "migrated_by" END
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."auth_mode" = ?
RETURNING *;`

var updateAuthModeForceSQL = `UPDATE "accounts" AS "acc"
SET
	"auth_mode" = ?,
	"migrated_at" = COALESCE("migrated_at", ?),
	"migrated_by" = CASE WHEN "migrated_by" IS NULL OR "migrated_by" = '' THEN ? ELSE "migrated_by" END
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
RETURNING *;`

type Accounts interface {
	repository.Repository[*Account]

	GetByEmail(ctx context.Context, email string, criteria ...repository.SelectCriteria) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string, criteria ...repository.SelectCriteria) (*Account, error)
	GetByLegacyProviderID(ctx context.Context, legacyID string) (*Account, error)

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	GetOrRegister(ctx context.Context, record *Account) (*Account, error)
	GetOrRegisterTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)
	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)

	UpdateAuthMode(ctx context.Context, id uuid.UUID, from, to AuthMode, opts ...ModeUpdateOption) (*Account, error)
	UpdateAuthModeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to AuthMode, opts ...ModeUpdateOption) (*Account, error)
	ProvisionMigration(ctx context.Context, id uuid.UUID, passwordHash string) (*Account, bool, error)
	ProvisionMigrationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) (*Account, bool, error)
	FinalizeMigration(ctx context.Context, id uuid.UUID, actor string, at time.Time) (*Account, bool, error)
	FinalizeMigrationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, actor string, at time.Time) (*Account, bool, error)
	SetCredentials(ctx context.Context, id uuid.UUID, passwordHash string, mustChange bool) error
	SetCredentialsTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, mustChange bool) error

	TrackAttemptedLogin(ctx context.Context, account *Account) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, account *Account) error

	GetModeByID(ctx context.Context, id uuid.UUID) (AuthMode, error)
	LinkLegacyProvider(ctx context.Context, id uuid.UUID, legacyID string) error
	ListByAuthMode(ctx context.Context, mode AuthMode, limit int) ([]*Account, error)

	CountTotal(ctx context.Context) (int, error)
	CountByAuthMode(ctx context.Context) (map[AuthMode]int, error)
	CountPendingActivation(ctx context.Context) (int, error)
	RecentMigrations(ctx context.Context, since time.Time, limit int) ([]*Account, error)
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) GetByEmail(ctx context.Context, email string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email, criteria...)
}

func (a *accounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string, criteria ...repository.SelectCriteria) (*Account, error) {
	record := &Account{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
		Where("LOWER(?TableAlias.email) = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": normalizeEmail(email),
				})
		}
		return nil, err
	}

	return record, nil
}

// GetByLegacyProviderID resolves the local account linked to an external
// provider identity. Used to authorize delegated sessions whose subject is
// the provider's ID rather than the local account ID.
func (a *accounts) GetByLegacyProviderID(ctx context.Context, legacyID string) (*Account, error) {
	record := &Account{}

	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.legacy_provider_id = ?", legacyID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"legacy_provider_id": legacyID,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accounts) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

func (a *accounts) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	return a.CreateTx(ctx, tx, account)
}

func (a *accounts) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	if record == nil {
		return nil, errors.New("account record is required", errors.CategoryBadInput)
	}

	prepareAccountDefaults(record)

	if err := record.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid account record")
	}

	created, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail.Clone().WithMetadata(map[string]any{
				"email": record.Email,
			})
		}
		return nil, err
	}

	return created, nil
}

func (a *accounts) GetOrRegister(ctx context.Context, record *Account) (*Account, error) {
	return a.GetOrRegisterTx(ctx, a.db, record)
}

func (a *accounts) GetOrRegisterTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	account, err := a.GetByEmailTx(ctx, tx, record.Email)
	if err == nil {
		return account, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.RegisterTx(ctx, tx, record)
}

// ModeUpdateOption mutates how an auth mode update statement is built.
type ModeUpdateOption func(*modeUpdate)

type modeUpdate struct {
	migratedBy    string
	migratedAt    *time.Time
	unconditional bool
}

// WithMigrationStamp records when and by whom the account reached local
// mode. Existing stamps are preserved.
func WithMigrationStamp(actor string, at time.Time) ModeUpdateOption {
	return func(m *modeUpdate) {
		m.migratedBy = actor
		m.migratedAt = &at
	}
}

// WithUnconditionalMode drops the expected-mode predicate. Only the force
// transition path (administrative rollback) uses this.
func WithUnconditionalMode() ModeUpdateOption {
	return func(m *modeUpdate) {
		m.unconditional = true
	}
}

func (a *accounts) UpdateAuthMode(ctx context.Context, id uuid.UUID, from, to AuthMode, opts ...ModeUpdateOption) (*Account, error) {
	return a.UpdateAuthModeTx(ctx, a.db, id, from, to, opts...)
}

func (a *accounts) UpdateAuthModeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to AuthMode, opts ...ModeUpdateOption) (*Account, error) {
	update := &modeUpdate{}
	for _, opt := range opts {
		if opt != nil {
			opt(update)
		}
	}

	var migratedAt any
	if update.migratedAt != nil {
		migratedAt = *update.migratedAt
	}

	var res []*Account
	var err error

	if update.unconditional {
		res, err = a.Repository.RawTx(ctx, tx, updateAuthModeForceSQL,
			string(to), migratedAt, update.migratedBy, id.String())
	} else {
		res, err = a.Repository.RawTx(ctx, tx, updateAuthModeSQL,
			string(to), migratedAt, update.migratedBy, id.String(), string(from))
	}
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		// Nothing matched: the row moved on concurrently or the caller's
		// view of the current mode is stale.
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"id":            id.String(),
			"expected_from": from,
			"to":            to,
		})
	}

	return res[0], nil
}

func (a *accounts) ProvisionMigration(ctx context.Context, id uuid.UUID, passwordHash string) (*Account, bool, error) {
	return a.ProvisionMigrationTx(ctx, a.db, id, passwordHash)
}

func (a *accounts) ProvisionMigrationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) (*Account, bool, error) {
	res, err := a.Repository.RawTx(ctx, tx, ProvisionMigrationSQL, passwordHash, id.String())
	if err != nil {
		return nil, false, err
	}

	if len(res) == 0 {
		return nil, false, nil
	}

	return res[0], true, nil
}

func (a *accounts) FinalizeMigration(ctx context.Context, id uuid.UUID, actor string, at time.Time) (*Account, bool, error) {
	return a.FinalizeMigrationTx(ctx, a.db, id, actor, at)
}

func (a *accounts) FinalizeMigrationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, actor string, at time.Time) (*Account, bool, error) {
	res, err := a.Repository.RawTx(ctx, tx, FinalizeMigrationSQL, at, actor, id.String())
	if err != nil {
		return nil, false, err
	}

	if len(res) == 0 {
		return nil, false, nil
	}

	return res[0], true, nil
}

func (a *accounts) SetCredentials(ctx context.Context, id uuid.UUID, passwordHash string, mustChange bool) error {
	return a.SetCredentialsTx(ctx, a.db, id, passwordHash, mustChange)
}

func (a *accounts) SetCredentialsTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, mustChange bool) error {
	res, err := a.Repository.RawTx(ctx, tx, SetCredentialsSQL, passwordHash, mustChange, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, account)
}

func (a *accounts) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, account *Account) error {
	loggedInAt := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "accounts" AS "acc"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("acc".id = ?)
			AND "acc"."deleted_at" IS NULL;
	`, loggedInAt, account.ID).Exec(ctx)

	return err
}

func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, account)
}

func (a *accounts) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, account *Account) error {
	criteria := []repository.UpdateCriteria{
		repository.UpdateByID(account.ID.String()),
	}

	record := &Account{}
	record.ID = account.ID
	record.LoginAttempts = account.LoginAttempts + 1
	now := time.Now()
	record.LoginAttemptAt = &now

	_, err := a.Repository.UpdateTx(ctx, tx, record, criteria...)

	return err
}

// GetModeByID resolves the account's current auth mode. The gate uses it
// as its consistency guard, so it reads straight from the store.
func (a *accounts) GetModeByID(ctx context.Context, id uuid.UUID) (AuthMode, error) {
	var mode string

	err := a.db.NewSelect().
		Model((*Account)(nil)).
		Column("auth_mode").
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx, &mode)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return "", repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return "", err
	}

	return AuthMode(mode), nil
}

// LinkLegacyProvider records the external provider ID on an account that
// does not carry one yet. An existing linkage is left untouched.
func (a *accounts) LinkLegacyProvider(ctx context.Context, id uuid.UUID, legacyID string) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("legacy_provider_id = ?", legacyID).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id.String()).
		Where("?TableAlias.legacy_provider_id IS NULL OR ?TableAlias.legacy_provider_id = ''").
		Exec(ctx)

	return err
}

// ListByAuthMode returns accounts in a mode, oldest first, so cohort runs
// pick a stable ordering.
func (a *accounts) ListByAuthMode(ctx context.Context, mode AuthMode, limit int) ([]*Account, error) {
	var records []*Account

	q := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.auth_mode = ?", string(mode)).
		OrderExpr("?TableAlias.created_at ASC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return records, nil
}

func (a *accounts) CountTotal(ctx context.Context) (int, error) {
	return a.db.NewSelect().
		Model((*Account)(nil)).
		Count(ctx)
}

func (a *accounts) CountByAuthMode(ctx context.Context) (map[AuthMode]int, error) {
	var rows []struct {
		AuthMode string `bun:"auth_mode"`
		Total    int    `bun:"total"`
	}

	err := a.db.NewSelect().
		Model((*Account)(nil)).
		Column("auth_mode").
		ColumnExpr("count(*) AS total").
		Group("auth_mode").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	counts := make(map[AuthMode]int, len(rows))
	for _, row := range rows {
		counts[AuthMode(row.AuthMode)] = row.Total
	}

	return counts, nil
}

func (a *accounts) CountPendingActivation(ctx context.Context) (int, error) {
	return a.db.NewSelect().
		Model((*Account)(nil)).
		Where("?TableAlias.status = ?", string(AccountStatusPending)).
		Count(ctx)
}

func (a *accounts) RecentMigrations(ctx context.Context, since time.Time, limit int) ([]*Account, error) {
	var records []*Account

	q := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.migrated_at IS NOT NULL").
		Where("?TableAlias.migrated_at >= ?", since).
		OrderExpr("?TableAlias.migrated_at DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return records, nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	record.Email = normalizeEmail(record.Email)

	if record.Role == "" {
		record.Role = RoleMember
	}

	record.EnsureDefaults()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique violation")
}
