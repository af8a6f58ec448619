package identity

import (
	"context"
	"time"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// ModeTransitionMetadata captures extra context for a transition.
type ModeTransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// ModeTransitionContext describes a single auth mode change.
type ModeTransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AuthMode
	To      AuthMode
	Meta    ModeTransitionMetadata
}

// ModeTransitionOption customizes a single transition.
type ModeTransitionOption func(*modeTransitionOptions)

// AuthModeMachine defines auth mode lifecycle operations for accounts.
type AuthModeMachine interface {
	Transition(ctx context.Context, actor ActorRef, account *Account, target AuthMode, opts ...ModeTransitionOption) (*Account, error)
	CurrentMode(account *Account) AuthMode
}

// ModeMachineOption customizes machine construction.
type ModeMachineOption func(*authModeMachine)

// WithModeMachineClock injects a custom clock (useful for tests).
func WithModeMachineClock(clock func() time.Time) ModeMachineOption {
	return func(sm *authModeMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithModeMachineActivitySink sets the ActivitySink used to publish mode changes.
func WithModeMachineActivitySink(sink ActivitySink) ModeMachineOption {
	return func(sm *authModeMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithModeMachineLogger overrides the logger used for sink failures.
func WithModeMachineLogger(logger Logger) ModeMachineOption {
	return func(sm *authModeMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) ModeTransitionOption {
	return func(opts *modeTransitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) ModeTransitionOption {
	return func(opts *modeTransitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses the monotonic ordering. This is the explicit
// administrative rollback escape hatch; nothing else may move a mode backwards.
func WithForceTransition() ModeTransitionOption {
	return func(opts *modeTransitionOptions) {
		opts.force = true
	}
}

// NewAuthModeMachine returns the default implementation backed by the
// provided repository. The transition graph is strictly forward:
// delegated -> migrating -> local, with the direct delegated -> local jump
// reserved for accounts created straight onto local credentials.
func NewAuthModeMachine(accounts Accounts, opts ...ModeMachineOption) AuthModeMachine {
	sm := &authModeMachine{
		accounts: accounts,
		transitions: map[AuthMode]map[AuthMode]struct{}{
			AuthModeDelegated: {
				AuthModeMigrating: {},
				AuthModeLocal:     {},
			},
			AuthModeMigrating: {
				AuthModeLocal: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type authModeMachine struct {
	accounts     Accounts
	transitions  map[AuthMode]map[AuthMode]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type modeTransitionOptions struct {
	metadata ModeTransitionMetadata
	force    bool
}

func (o *modeTransitionOptions) cloneMetadata() ModeTransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return ModeTransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *authModeMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target AuthMode, opts ...ModeTransitionOption) (*Account, error) {
	if account == nil {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "account is nil",
		})
	}

	account.EnsureDefaults()
	from := account.AuthMode
	if !ValidAuthMode(target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "unknown target mode",
		})
	}

	if from == target {
		return account, nil
	}

	options := sm.buildOptions(opts...)

	if !options.force && !sm.canTransition(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	updateOpts := []ModeUpdateOption{}
	if target == AuthModeLocal {
		// Stamp migrated_at/migrated_by exactly once; the repository keeps
		// an existing stamp via COALESCE.
		at := sm.now()
		updateOpts = append(updateOpts, WithMigrationStamp(actor.ID, at))
	}
	if options.force {
		updateOpts = append(updateOpts, WithUnconditionalMode())
	}

	updated, err := sm.accounts.UpdateAuthMode(ctx, account.ID, from, target, updateOpts...)
	if err != nil {
		return nil, err
	}

	if updated != nil {
		account.AuthMode = updated.AuthMode
		account.MigratedAt = updated.MigratedAt
		account.MigratedBy = updated.MigratedBy
	} else {
		account.AuthMode = target
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAuthModeChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromMode:  from,
		ToMode:    target,
		Metadata:  sm.transitionMetadata(options.cloneMetadata()),
	})

	return account, nil
}

func (sm *authModeMachine) CurrentMode(account *Account) AuthMode {
	if account == nil {
		return ""
	}
	account.EnsureDefaults()
	return account.AuthMode
}

func (sm *authModeMachine) canTransition(from, to AuthMode) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *authModeMachine) buildOptions(opts ...ModeTransitionOption) *modeTransitionOptions {
	options := &modeTransitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *authModeMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("mode machine activity sink error: %v", err)
	}
}

func (sm *authModeMachine) transitionMetadata(meta ModeTransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
