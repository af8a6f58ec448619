package activitymap

import (
	"context"

	identity "github.com/complyport/go-identity"
)

// Publisher receives normalized activity records. Implementations forward
// them to whatever downstream system consumes the audit trail.
type Publisher func(ctx context.Context, record Normalized) error

type sink struct {
	publish Publisher
	opts    []Option
}

// Sink adapts a Publisher into an identity.ActivitySink, normalizing each
// event before it leaves the process. Plug it into the authenticator or the
// migration service through their activity sink options.
func Sink(publish Publisher, opts ...Option) identity.ActivitySink {
	return &sink{publish: publish, opts: opts}
}

// Record implements identity.ActivitySink.
func (s *sink) Record(ctx context.Context, event identity.ActivityEvent) error {
	if s.publish == nil {
		return nil
	}
	return s.publish(ctx, Normalize(event, s.opts...))
}
