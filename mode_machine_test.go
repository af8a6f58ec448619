package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/complyport/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modeUpdateCall struct {
	id       uuid.UUID
	from     identity.AuthMode
	to       identity.AuthMode
	optCount int
}

// fakeModeStore implements the single Accounts method the machine uses.
type fakeModeStore struct {
	identity.Accounts

	updateErr error
	calls     []modeUpdateCall
}

func (f *fakeModeStore) UpdateAuthMode(ctx context.Context, id uuid.UUID, from, to identity.AuthMode, opts ...identity.ModeUpdateOption) (*identity.Account, error) {
	f.calls = append(f.calls, modeUpdateCall{id: id, from: from, to: to, optCount: len(opts)})
	if f.updateErr != nil {
		return nil, f.updateErr
	}

	updated := &identity.Account{ID: id, AuthMode: to}
	if to == identity.AuthModeLocal {
		at := time.Now()
		updated.MigratedAt = &at
		updated.MigratedBy = "admin-1"
	}
	return updated, nil
}

func testAccount(mode identity.AuthMode) *identity.Account {
	return &identity.Account{
		ID:       uuid.New(),
		Email:    "rose@example.com",
		Role:     identity.RoleMember,
		AuthMode: mode,
		Status:   identity.AccountStatusActive,
	}
}

func TestAuthModeMachine_Transition(t *testing.T) {
	actor := identity.ActorRef{ID: "admin-1", Type: "account"}

	t.Run("delegated to migrating", func(t *testing.T) {
		store := &fakeModeStore{}
		sink := &memorySink{}
		machine := identity.NewAuthModeMachine(store, identity.WithModeMachineActivitySink(sink))

		account := testAccount(identity.AuthModeDelegated)
		updated, err := machine.Transition(context.Background(), actor, account, identity.AuthModeMigrating)
		require.NoError(t, err)
		assert.Equal(t, identity.AuthModeMigrating, updated.AuthMode)

		require.Len(t, store.calls, 1)
		assert.Equal(t, identity.AuthModeDelegated, store.calls[0].from)
		assert.Equal(t, identity.AuthModeMigrating, store.calls[0].to)

		events := sink.EventsOfType(identity.ActivityEventAuthModeChanged)
		require.Len(t, events, 1)
		assert.Equal(t, actor, events[0].Actor)
		assert.Equal(t, identity.AuthModeDelegated, events[0].FromMode)
		assert.Equal(t, identity.AuthModeMigrating, events[0].ToMode)
		assert.Equal(t, account.ID.String(), events[0].AccountID)
	})

	t.Run("migrating to local stamps migration fields", func(t *testing.T) {
		store := &fakeModeStore{}
		machine := identity.NewAuthModeMachine(store)

		account := testAccount(identity.AuthModeMigrating)
		updated, err := machine.Transition(context.Background(), actor, account, identity.AuthModeLocal)
		require.NoError(t, err)
		assert.Equal(t, identity.AuthModeLocal, updated.AuthMode)
		assert.NotNil(t, updated.MigratedAt)
		assert.Equal(t, "admin-1", updated.MigratedBy)
	})

	t.Run("delegated directly to local is allowed", func(t *testing.T) {
		store := &fakeModeStore{}
		machine := identity.NewAuthModeMachine(store)

		account := testAccount(identity.AuthModeDelegated)
		updated, err := machine.Transition(context.Background(), actor, account, identity.AuthModeLocal)
		require.NoError(t, err)
		assert.Equal(t, identity.AuthModeLocal, updated.AuthMode)
	})

	t.Run("backward transition is rejected", func(t *testing.T) {
		store := &fakeModeStore{}
		sink := &memorySink{}
		machine := identity.NewAuthModeMachine(store, identity.WithModeMachineActivitySink(sink))

		account := testAccount(identity.AuthModeLocal)
		_, err := machine.Transition(context.Background(), actor, account, identity.AuthModeMigrating)
		require.Error(t, err)
		assert.True(t, identity.IsInvalidTransitionError(err))
		assert.Empty(t, store.calls, "rejected transitions never reach the store")
		assert.Empty(t, sink.Events())
	})

	t.Run("same mode is a no-op", func(t *testing.T) {
		store := &fakeModeStore{}
		sink := &memorySink{}
		machine := identity.NewAuthModeMachine(store, identity.WithModeMachineActivitySink(sink))

		account := testAccount(identity.AuthModeMigrating)
		updated, err := machine.Transition(context.Background(), actor, account, identity.AuthModeMigrating)
		require.NoError(t, err)
		assert.Equal(t, account, updated)
		assert.Empty(t, store.calls)
		assert.Empty(t, sink.Events())
	})

	t.Run("forced rollback bypasses the ordering", func(t *testing.T) {
		store := &fakeModeStore{}
		sink := &memorySink{}
		machine := identity.NewAuthModeMachine(store, identity.WithModeMachineActivitySink(sink))

		account := testAccount(identity.AuthModeLocal)
		updated, err := machine.Transition(
			context.Background(), actor, account, identity.AuthModeDelegated,
			identity.WithForceTransition(),
			identity.WithTransitionReason("incident rollback"),
		)
		require.NoError(t, err)
		assert.Equal(t, identity.AuthModeDelegated, updated.AuthMode)

		events := sink.EventsOfType(identity.ActivityEventAuthModeChanged)
		require.Len(t, events, 1)
		assert.Equal(t, "incident rollback", events[0].Metadata["reason"])
	})

	t.Run("unknown target mode is rejected", func(t *testing.T) {
		machine := identity.NewAuthModeMachine(&fakeModeStore{})
		account := testAccount(identity.AuthModeDelegated)

		_, err := machine.Transition(context.Background(), actor, account, identity.AuthMode("hybrid"))
		require.Error(t, err)
		assert.True(t, identity.IsInvalidTransitionError(err))
	})

	t.Run("nil account is rejected", func(t *testing.T) {
		machine := identity.NewAuthModeMachine(&fakeModeStore{})
		_, err := machine.Transition(context.Background(), actor, nil, identity.AuthModeLocal)
		require.Error(t, err)
		assert.True(t, identity.IsInvalidTransitionError(err))
	})

	t.Run("store rejection propagates", func(t *testing.T) {
		store := &fakeModeStore{updateErr: identity.ErrInvalidTransition}
		machine := identity.NewAuthModeMachine(store)

		account := testAccount(identity.AuthModeDelegated)
		_, err := machine.Transition(context.Background(), actor, account, identity.AuthModeMigrating)
		require.Error(t, err)
		assert.True(t, identity.IsInvalidTransitionError(err))
	})
}

func TestAuthModeMachine_CurrentMode(t *testing.T) {
	machine := identity.NewAuthModeMachine(&fakeModeStore{})

	assert.Equal(t, identity.AuthMode(""), machine.CurrentMode(nil))
	assert.Equal(t, identity.AuthModeDelegated, machine.CurrentMode(&identity.Account{}))
	assert.Equal(t, identity.AuthModeLocal, machine.CurrentMode(testAccount(identity.AuthModeLocal)))
}
