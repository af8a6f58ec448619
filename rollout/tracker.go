// Package rollout aggregates migration progress for admin reporting. It is
// a pure read side: nothing here mutates accounts.
package rollout

import (
	"context"
	"fmt"
	"sort"
	"time"

	identity "github.com/complyport/go-identity"
)

// AccountCounter is the read-only slice of the account repository the
// tracker aggregates over.
type AccountCounter interface {
	CountTotal(ctx context.Context) (int, error)
	CountByAuthMode(ctx context.Context) (map[identity.AuthMode]int, error)
	CountPendingActivation(ctx context.Context) (int, error)
	RecentMigrations(ctx context.Context, since time.Time, limit int) ([]*identity.Account, error)
}

// ProviderCounter exposes the external provider's total user count. The
// lookup may fail independently of the rest of the report.
type ProviderCounter interface {
	CountUsers(ctx context.Context) (int, error)
}

// Cohort is a named rollout gate with a target account count.
type Cohort struct {
	Name   string `json:"name"`
	Target int    `json:"target"`
}

// DefaultCohorts returns the standard phased gates: a small pilot, two
// widening waves, and the full population.
func DefaultCohorts(total int) []Cohort {
	return []Cohort{
		{Name: "pilot", Target: 5},
		{Name: "wave1", Target: 30},
		{Name: "wave2", Target: 100},
		{Name: "final", Target: total},
	}
}

// Summary holds population counts per auth mode.
type Summary struct {
	TotalAccounts     int    `json:"totalAccounts"`
	Delegated         int    `json:"delegated"`
	Migrating         int    `json:"migrating"`
	Local             int    `json:"local"`
	PendingActivation int    `json:"pendingActivation"`
	PercentComplete   string `json:"percentComplete"`
}

// ProviderStatus reports the external provider lookup. Available is false
// when the lookup failed; the count is zero in that case.
type ProviderStatus struct {
	Available  bool `json:"available"`
	TotalUsers int  `json:"totalUsers"`
}

// CohortStatus reports one gate's progress.
type CohortStatus struct {
	Target   int  `json:"target"`
	Current  int  `json:"current"`
	Complete bool `json:"complete"`
}

// MigrationEntry is one recently migrated account with actor attribution.
type MigrationEntry struct {
	AccountID  string    `json:"accountId"`
	Email      string    `json:"email"`
	MigratedAt time.Time `json:"migratedAt"`
	MigratedBy string    `json:"migratedBy"`
}

// Report is the admin-facing aggregation.
type Report struct {
	Summary          Summary                 `json:"summary"`
	ExternalProvider ProviderStatus          `json:"externalProvider"`
	CohortProgress   map[string]CohortStatus `json:"cohortProgress"`
	RecentMigrations []MigrationEntry        `json:"recentMigrations"`
	GeneratedAt      time.Time               `json:"generatedAt"`
}

// Tracker computes rollout reports on demand.
type Tracker struct {
	accounts AccountCounter
	provider ProviderCounter
	cohorts  []Cohort
	window   time.Duration
	limit    int
	logger   identity.Logger
	now      func() time.Time
}

// Option customizes the tracker.
type Option func(*Tracker)

// WithProvider wires the external provider count lookup.
func WithProvider(provider ProviderCounter) Option {
	return func(t *Tracker) {
		t.provider = provider
	}
}

// WithCohorts overrides the default rollout gates.
func WithCohorts(cohorts []Cohort) Option {
	return func(t *Tracker) {
		if len(cohorts) > 0 {
			t.cohorts = cohorts
		}
	}
}

// WithWindow sets the trailing window for recent migrations.
func WithWindow(window time.Duration) Option {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithRecentLimit caps the recent migrations list.
func WithRecentLimit(limit int) Option {
	return func(t *Tracker) {
		if limit > 0 {
			t.limit = limit
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger identity.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.now = clock
		}
	}
}

// New creates a tracker over the account counts.
func New(accounts AccountCounter, opts ...Option) *Tracker {
	t := &Tracker{
		accounts: accounts,
		window:   7 * 24 * time.Hour,
		limit:    20,
		logger:   identity.DefaultLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Report computes the aggregation. The external provider count failing
// only degrades that section; everything else still reports.
func (t *Tracker) Report(ctx context.Context) (*Report, error) {
	now := t.now()

	total, err := t.accounts.CountTotal(ctx)
	if err != nil {
		return nil, err
	}

	byMode, err := t.accounts.CountByAuthMode(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := t.accounts.CountPendingActivation(ctx)
	if err != nil {
		return nil, err
	}

	local := byMode[identity.AuthModeLocal]

	report := &Report{
		Summary: Summary{
			TotalAccounts:     total,
			Delegated:         byMode[identity.AuthModeDelegated],
			Migrating:         byMode[identity.AuthModeMigrating],
			Local:             local,
			PendingActivation: pending,
			PercentComplete:   formatPercent(local, total),
		},
		CohortProgress:   t.cohortProgress(local, total),
		RecentMigrations: []MigrationEntry{},
		GeneratedAt:      now,
	}

	recent, err := t.accounts.RecentMigrations(ctx, now.Add(-t.window), t.limit)
	if err != nil {
		return nil, err
	}

	for _, account := range recent {
		entry := MigrationEntry{
			AccountID:  account.ID.String(),
			Email:      account.Email,
			MigratedBy: account.MigratedBy,
		}
		if account.MigratedAt != nil {
			entry.MigratedAt = *account.MigratedAt
		}
		report.RecentMigrations = append(report.RecentMigrations, entry)
	}

	report.ExternalProvider = t.providerStatus(ctx)

	return report, nil
}

func (t *Tracker) cohortProgress(local, total int) map[string]CohortStatus {
	cohorts := t.cohorts
	if len(cohorts) == 0 {
		cohorts = DefaultCohorts(total)
	}

	progress := make(map[string]CohortStatus, len(cohorts))
	for _, cohort := range cohorts {
		current := local
		if current > cohort.Target {
			current = cohort.Target
		}
		progress[cohort.Name] = CohortStatus{
			Target:   cohort.Target,
			Current:  current,
			Complete: cohort.Target > 0 && local >= cohort.Target,
		}
	}

	return progress
}

func (t *Tracker) providerStatus(ctx context.Context) ProviderStatus {
	if t.provider == nil {
		return ProviderStatus{}
	}

	count, err := t.provider.CountUsers(ctx)
	if err != nil {
		t.logger.Warn("rollout report provider count failed", "error", err)
		return ProviderStatus{Available: false}
	}

	return ProviderStatus{
		Available:  true,
		TotalUsers: count,
	}
}

// CohortNames returns the configured gate names in ascending target order.
func (t *Tracker) CohortNames(total int) []string {
	cohorts := t.cohorts
	if len(cohorts) == 0 {
		cohorts = DefaultCohorts(total)
	}

	sorted := append([]Cohort(nil), cohorts...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Target < sorted[j].Target
	})

	names := make([]string, 0, len(sorted))
	for _, cohort := range sorted {
		names = append(names, cohort.Name)
	}
	return names
}

func formatPercent(part, total int) string {
	if total <= 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}
