// Package synchronizer keeps a driver's onboarding progress in the local
// store and replicates it to the remote store when it can. The local store is
// always written first and is authoritative; remote failures are reported to
// the caller and leave records pending for the next sweep.
package synchronizer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/metrics"
	"github.com/johndauphine/onboard-sync/internal/notify"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/remote"
	"github.com/johndauphine/onboard-sync/internal/review"
)

const tracerName = "github.com/johndauphine/onboard-sync/internal/synchronizer"

// Identity yields the signed-in driver.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// StaticIdentity is an Identity fixed at construction, as used by the CLI.
type StaticIdentity string

// CurrentUserID implements Identity.
func (s StaticIdentity) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}

// SaveResult reports the outcome of a save. RemoteErr is set when the local
// write succeeded but replication did not; the record stays pending.
type SaveResult struct {
	Record    *onboarding.ProgressRecord
	Synced    bool
	RemoteErr error
}

// ClearResult reports the best-effort remote half of ClearProgress.
type ClearResult struct {
	RemoteErr error
}

// SweepResult summarises one SyncPendingData pass.
type SweepResult struct {
	Attempted int
	Synced    int
	Failed    int
	Errors    []error
}

// SubmitResult extends SaveResult with the review publication outcome.
type SubmitResult struct {
	SaveResult
	Status     *onboarding.OnboardingStatus
	PublishErr error
}

// Synchronizer coordinates the local and remote progress stores.
// It holds no locks across calls; concurrent saves resolve last-writer-wins.
type Synchronizer struct {
	local    checkpoint.Backend
	remote   remote.Store
	identity Identity

	progressCollection string
	statusCollection   string
	totalSteps         int
	workers            int

	publisher review.Publisher
	notifier  notify.Provider
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithCollections overrides the remote collection names.
func WithCollections(progress, status string) Option {
	return func(s *Synchronizer) {
		if progress != "" {
			s.progressCollection = progress
		}
		if status != "" {
			s.statusCollection = status
		}
	}
}

// WithTotalSteps sets the flow length used for new records.
func WithTotalSteps(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.totalSteps = n
		}
	}
}

// WithWorkers bounds SyncPendingData concurrency.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPublisher sets where submissions are announced.
func WithPublisher(p review.Publisher) Option {
	return func(s *Synchronizer) { s.publisher = p }
}

// WithNotifier sets the ops notification provider.
func WithNotifier(n notify.Provider) Option {
	return func(s *Synchronizer) { s.notifier = n }
}

// WithMetrics sets the collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Synchronizer) { s.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// New builds a Synchronizer over explicitly constructed stores. The caller
// owns local and remote and closes them.
func New(local checkpoint.Backend, store remote.Store, identity Identity, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		local:              local,
		remote:             store,
		identity:           identity,
		progressCollection: remote.ProgressCollection,
		statusCollection:   remote.StatusCollection,
		totalSteps:         onboarding.DefaultTotalSteps,
		workers:            4,
		publisher:          review.NopPublisher{},
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// TotalSteps returns the configured flow length.
func (s *Synchronizer) TotalSteps() int { return s.totalSteps }

func (s *Synchronizer) currentUser(ctx context.Context) (string, error) {
	if s.identity == nil {
		return "", onboarding.ErrNotAuthenticated
	}
	id, ok := s.identity.CurrentUserID(ctx)
	if !ok || id == "" {
		return "", onboarding.ErrNotAuthenticated
	}
	return id, nil
}

func (s *Synchronizer) startSpan(ctx context.Context, op, userID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("onboarding.operation", op)}
	if userID != "" {
		attrs = append(attrs, attribute.String("onboarding.user_id", userID))
	}
	return s.tracer.Start(ctx, "synchronizer."+op, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
