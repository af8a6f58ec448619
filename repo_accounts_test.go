package identity_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	identity "github.com/complyport/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupAccountsRepo(t *testing.T) identity.Accounts {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ddl, err := identity.GetMigrationsFS().ReadFile("data/sql/migrations/20250301000000_create_accounts.up.sql")
	require.NoError(t, err)

	for _, stmt := range strings.Split(string(ddl), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	return identity.NewAccountsRepository(db)
}

func registerDelegated(t *testing.T, repo identity.Accounts, email, legacyID string) *identity.Account {
	t.Helper()
	account, err := repo.Register(context.Background(), &identity.Account{
		Email:            email,
		AuthMode:         identity.AuthModeDelegated,
		Status:           identity.AccountStatusActive,
		LegacyProviderID: legacyID,
	})
	require.NoError(t, err)
	return account
}

func TestAccountsRepository_Register(t *testing.T) {
	ctx := context.Background()
	repo := setupAccountsRepo(t)

	t.Run("fills defaults and normalizes email", func(t *testing.T) {
		account, err := repo.Register(ctx, &identity.Account{Email: "  Rose@Example.COM "})
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, account.ID)
		assert.Equal(t, "rose@example.com", account.Email)
		assert.Equal(t, identity.RoleMember, account.Role)
		assert.Equal(t, identity.AuthModeDelegated, account.AuthMode)
		assert.Equal(t, identity.AccountStatusActive, account.Status)
	})

	t.Run("duplicate email is a typed conflict", func(t *testing.T) {
		_, err := repo.Register(ctx, &identity.Account{Email: "rose@example.com"})
		require.Error(t, err)
		assert.True(t, identity.IsDuplicateEmailError(err))
	})

	t.Run("lookup matches case-insensitively", func(t *testing.T) {
		account, err := repo.GetByEmail(ctx, "ROSE@example.com")
		require.NoError(t, err)
		assert.Equal(t, "rose@example.com", account.Email)
	})

	t.Run("malformed email never reaches the store", func(t *testing.T) {
		_, err := repo.Register(ctx, &identity.Account{Email: "not-an-email"})
		require.Error(t, err)
		assert.False(t, identity.IsDuplicateEmailError(err))
	})

	t.Run("nil record is rejected", func(t *testing.T) {
		_, err := repo.Register(ctx, nil)
		require.Error(t, err)
	})
}

func TestAccountsRepository_LegacyLinkage(t *testing.T) {
	ctx := context.Background()
	repo := setupAccountsRepo(t)

	account := registerDelegated(t, repo, "rose@example.com", "user_ext_42")

	t.Run("resolves by legacy provider id", func(t *testing.T) {
		found, err := repo.GetByLegacyProviderID(ctx, "user_ext_42")
		require.NoError(t, err)
		assert.Equal(t, account.ID, found.ID)
	})

	t.Run("unknown legacy id is not found", func(t *testing.T) {
		_, err := repo.GetByLegacyProviderID(ctx, "user_ext_unknown")
		assert.Error(t, err)
	})

	t.Run("backfills only missing linkage", func(t *testing.T) {
		unlinked := registerDelegated(t, repo, "finn@example.com", "")

		require.NoError(t, repo.LinkLegacyProvider(ctx, unlinked.ID, "user_ext_77"))

		found, err := repo.GetByLegacyProviderID(ctx, "user_ext_77")
		require.NoError(t, err)
		assert.Equal(t, unlinked.ID, found.ID)

		// a second link attempt must not overwrite the existing value
		require.NoError(t, repo.LinkLegacyProvider(ctx, unlinked.ID, "user_ext_99"))
		_, err = repo.GetByLegacyProviderID(ctx, "user_ext_99")
		assert.Error(t, err)
	})
}

func TestAccountsRepository_ProvisionMigration(t *testing.T) {
	ctx := context.Background()

	t.Run("moves a delegated account into the dual validity window", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		updated, provisioned, err := repo.ProvisionMigration(ctx, account.ID, "$2a$04$hash")
		require.NoError(t, err)
		require.True(t, provisioned)

		assert.Equal(t, identity.AuthModeMigrating, updated.AuthMode)
		assert.Equal(t, "$2a$04$hash", updated.PasswordHash)
		assert.True(t, updated.MustChangePassword)
	})

	t.Run("second provision observes zero rows", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		_, provisioned, err := repo.ProvisionMigration(ctx, account.ID, "$2a$04$first")
		require.NoError(t, err)
		require.True(t, provisioned)

		_, provisioned, err = repo.ProvisionMigration(ctx, account.ID, "$2a$04$second")
		require.NoError(t, err)
		assert.False(t, provisioned)

		current, err := repo.GetByID(ctx, account.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "$2a$04$first", current.PasswordHash, "the losing writer must not clobber credentials")
	})

	t.Run("concurrent provisioning yields exactly one winner", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		var wg sync.WaitGroup
		wins := make(chan bool, 8)

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, provisioned, err := repo.ProvisionMigration(ctx, account.ID, "$2a$04$race")
				if err == nil && provisioned {
					wins <- true
				}
			}()
		}

		wg.Wait()
		close(wins)

		total := 0
		for range wins {
			total++
		}
		assert.Equal(t, 1, total)
	})
}

func TestAccountsRepository_FinalizeMigration(t *testing.T) {
	ctx := context.Background()

	t.Run("cuts a migrating account over to local", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		_, provisioned, err := repo.ProvisionMigration(ctx, account.ID, "$2a$04$hash")
		require.NoError(t, err)
		require.True(t, provisioned)

		at := time.Now().UTC().Truncate(time.Second)
		updated, finalized, err := repo.FinalizeMigration(ctx, account.ID, "admin-1", at)
		require.NoError(t, err)
		require.True(t, finalized)

		assert.Equal(t, identity.AuthModeLocal, updated.AuthMode)
		require.NotNil(t, updated.MigratedAt)
		assert.Equal(t, "admin-1", updated.MigratedBy)
	})

	t.Run("refuses to finalize a delegated account", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		_, finalized, err := repo.FinalizeMigration(ctx, account.ID, "admin-1", time.Now())
		require.NoError(t, err)
		assert.False(t, finalized)
	})

	t.Run("refuses to finalize without a password hash", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		// force the mode forward without provisioning credentials
		_, err := repo.UpdateAuthMode(ctx, account.ID, identity.AuthModeDelegated, identity.AuthModeMigrating)
		require.NoError(t, err)

		_, finalized, err := repo.FinalizeMigration(ctx, account.ID, "admin-1", time.Now())
		require.NoError(t, err)
		assert.False(t, finalized)
	})

	t.Run("finalizing twice keeps the original stamp", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		_, _, err := repo.ProvisionMigration(ctx, account.ID, "$2a$04$hash")
		require.NoError(t, err)

		first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		_, finalized, err := repo.FinalizeMigration(ctx, account.ID, "admin-1", first)
		require.NoError(t, err)
		require.True(t, finalized)

		_, finalized, err = repo.FinalizeMigration(ctx, account.ID, "admin-2", first.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, finalized, "local accounts are out of the migrating predicate")

		current, err := repo.GetByID(ctx, account.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "admin-1", current.MigratedBy)
	})
}

func TestAccountsRepository_UpdateAuthMode(t *testing.T) {
	ctx := context.Background()

	t.Run("stale expectation is a typed invalid transition", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		_, err := repo.UpdateAuthMode(ctx, account.ID, identity.AuthModeMigrating, identity.AuthModeLocal)
		require.Error(t, err)
		assert.True(t, identity.IsInvalidTransitionError(err))
	})

	t.Run("unconditional update ignores the expected mode", func(t *testing.T) {
		repo := setupAccountsRepo(t)
		account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

		updated, err := repo.UpdateAuthMode(ctx, account.ID,
			identity.AuthModeLocal, identity.AuthModeMigrating,
			identity.WithUnconditionalMode())
		require.NoError(t, err)
		assert.Equal(t, identity.AuthModeMigrating, updated.AuthMode)
	})
}

func TestAccountsRepository_ModeQueries(t *testing.T) {
	ctx := context.Background()
	repo := setupAccountsRepo(t)

	a1 := registerDelegated(t, repo, "a1@example.com", "user_ext_1")
	a2 := registerDelegated(t, repo, "a2@example.com", "user_ext_2")
	registerDelegated(t, repo, "a3@example.com", "user_ext_3")

	_, _, err := repo.ProvisionMigration(ctx, a1.ID, "$2a$04$hash")
	require.NoError(t, err)
	_, _, err = repo.ProvisionMigration(ctx, a2.ID, "$2a$04$hash")
	require.NoError(t, err)

	migratedAt := time.Now().UTC()
	_, _, err = repo.FinalizeMigration(ctx, a1.ID, "admin-1", migratedAt)
	require.NoError(t, err)

	t.Run("mode lookup by id", func(t *testing.T) {
		mode, err := repo.GetModeByID(ctx, a1.ID)
		require.NoError(t, err)
		assert.Equal(t, identity.AuthModeLocal, mode)

		_, err = repo.GetModeByID(ctx, uuid.New())
		assert.Error(t, err)
	})

	t.Run("list by mode", func(t *testing.T) {
		delegated, err := repo.ListByAuthMode(ctx, identity.AuthModeDelegated, 10)
		require.NoError(t, err)
		require.Len(t, delegated, 1)
		assert.Equal(t, "a3@example.com", delegated[0].Email)
	})

	t.Run("counts group by mode", func(t *testing.T) {
		total, err := repo.CountTotal(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, total)

		counts, err := repo.CountByAuthMode(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[identity.AuthModeDelegated])
		assert.Equal(t, 1, counts[identity.AuthModeMigrating])
		assert.Equal(t, 1, counts[identity.AuthModeLocal])
	})

	t.Run("recent migrations", func(t *testing.T) {
		recent, err := repo.RecentMigrations(ctx, migratedAt.Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, a1.ID, recent[0].ID)
	})
}

func TestAccountsRepository_LoginTracking(t *testing.T) {
	ctx := context.Background()
	repo := setupAccountsRepo(t)
	account := registerDelegated(t, repo, "rose@example.com", "user_ext_1")

	require.NoError(t, repo.TrackAttemptedLogin(ctx, account))
	require.NoError(t, repo.TrackAttemptedLogin(ctx, account))

	current, err := repo.GetByID(ctx, account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, current.LoginAttempts)
	assert.NotNil(t, current.LoginAttemptAt)

	require.NoError(t, repo.TrackSuccessfulLogin(ctx, current))

	current, err = repo.GetByID(ctx, account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, current.LoginAttempts)
	assert.NotNil(t, current.LoggedInAt)
}
