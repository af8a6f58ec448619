package activitymap_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/complyport/go-identity"
	"github.com/complyport/go-identity/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	event := identity.ActivityEvent{
		EventType: identity.ActivityEventAuthModeChanged,
		Actor:     identity.ActorRef{ID: "admin-42", Type: "admin"},
		AccountID: "account-100",
		FromMode:  identity.AuthModeDelegated,
		ToMode:    identity.AuthModeMigrating,
		Metadata: map[string]any{
			"ticket": "MIG-204",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "admin-42" {
		t.Fatalf("expected actor_id admin-42, got %q", out.ActorID)
	}
	if out.Verb != string(identity.ActivityEventAuthModeChanged) {
		t.Fatalf("expected verb %q, got %q", identity.ActivityEventAuthModeChanged, out.Verb)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "account-100" {
		t.Fatalf("expected object_id account-100, got %q", out.ObjectID)
	}
	if out.Channel != "identity" {
		t.Fatalf("expected channel identity, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["ticket"] != "MIG-204" {
		t.Fatalf("expected metadata ticket MIG-204, got %#v", out.Metadata["ticket"])
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "admin" {
		t.Fatalf("expected metadata actor_type admin, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if out.Metadata[activitymap.MetadataKeyFromMode] != string(identity.AuthModeDelegated) {
		t.Fatalf("expected metadata from_mode delegated, got %#v", out.Metadata[activitymap.MetadataKeyFromMode])
	}
	if out.Metadata[activitymap.MetadataKeyToMode] != string(identity.AuthModeMigrating) {
		t.Fatalf("expected metadata to_mode migrating, got %#v", out.Metadata[activitymap.MetadataKeyToMode])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := identity.ActivityEvent{
		EventType: identity.ActivityEventLoginSuccess,
		Actor:     identity.ActorRef{Type: "account"},
		AccountID: "account-200",
		Metadata: map[string]any{
			"email":                          "user@example.org",
			activitymap.MetadataKeyActorType: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("audit"),
		activitymap.WithDefaultObjectType("session"),
		activitymap.WithActorFallback("importer"),
		activitymap.WithObjectIDResolver(func(e identity.ActivityEvent) string {
			return "resolved-" + e.AccountID
		}),
	)

	if out.ActorID != "account-200" {
		t.Fatalf("expected actor fallback to account id, got %q", out.ActorID)
	}
	if out.Channel != "audit" {
		t.Fatalf("expected channel audit, got %q", out.Channel)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "resolved-account-200" {
		t.Fatalf("expected resolved object id, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "existing" {
		t.Fatalf("expected existing actor_type to be preserved, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if out.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be backfilled")
	}
}

func TestNormalizeEmptyEvent(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(identity.ActivityEvent{})

	if out.ActorID != "system" {
		t.Fatalf("expected system actor fallback, got %q", out.ActorID)
	}
	if out.Metadata != nil {
		t.Fatalf("expected nil metadata, got %#v", out.Metadata)
	}
}

func TestSink(t *testing.T) {
	t.Parallel()

	var published []activitymap.Normalized
	sink := activitymap.Sink(func(_ context.Context, record activitymap.Normalized) error {
		published = append(published, record)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), identity.ActivityEvent{
		EventType: identity.ActivityEventMigrationCompleted,
		Actor:     identity.ActorRef{ID: "admin-1"},
		AccountID: "account-300",
		FromMode:  identity.AuthModeMigrating,
		ToMode:    identity.AuthModeLocal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(published) != 1 {
		t.Fatalf("expected one published record, got %d", len(published))
	}
	if published[0].Verb != string(identity.ActivityEventMigrationCompleted) {
		t.Fatalf("unexpected verb %q", published[0].Verb)
	}
	if published[0].Channel != "audit" {
		t.Fatalf("expected channel audit, got %q", published[0].Channel)
	}

	if err := activitymap.Sink(nil).Record(context.Background(), identity.ActivityEvent{}); err != nil {
		t.Fatalf("nil publisher should be a no-op, got %v", err)
	}
}
