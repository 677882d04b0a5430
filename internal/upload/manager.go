// Package upload runs document and photo uploads in the background with
// bounded retries. Each task reports its progress as a finite stream of
// events that is closed once the task reaches a terminal state.
package upload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/metrics"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// Defaults for the retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// progressBuffer is the number of progress events a slow reader may lag by
// before further progress ticks are dropped.
const progressBuffer = 32

// ErrTaskNotFound is returned by Cancel for unknown or finished tasks.
var ErrTaskNotFound = errors.New("upload task not found")

// State is the lifecycle position of a task.
type State string

const (
	StateIdle      State = "idle"
	StatePicking   State = "picking" // source is being resolved
	StateUploading State = "uploading"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Request describes one upload.
type Request struct {
	SourceURI      string
	DestinationKey string
	ContentType    string
}

// ProgressSink mirrors task snapshots somewhere outside the process.
type ProgressSink interface {
	Record(ctx context.Context, snap Snapshot) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAttempts sets the attempt cap, including the first attempt.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the delay before the second attempt. Later delays double.
func WithBaseDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.baseDelay = d
		}
	}
}

// WithClassifier replaces the error classifier.
func WithClassifier(fn func(error) onboarding.UploadCode) Option {
	return func(m *Manager) { m.classify = fn }
}

// WithProgressSink mirrors snapshots to sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithMetrics records attempts and outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithSleeper replaces the retry wait, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// Manager starts and tracks upload tasks.
type Manager struct {
	bucket      Bucket
	maxAttempts int
	baseDelay   time.Duration
	classify    func(error) onboarding.UploadCode
	sink        ProgressSink
	metrics     *metrics.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// NewManager creates a Manager that stores files in bucket.
func NewManager(bucket Bucket, opts ...Option) *Manager {
	m := &Manager{
		bucket:      bucket,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		classify:    Classify,
		sleep:       sleepCtx,
		now:         time.Now,
		tasks:       make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryDelay is the wait after a failed attempt.
func (m *Manager) RetryDelay(attempt int) time.Duration {
	return m.baseDelay * time.Duration(1<<(attempt-1))
}

// Upload starts req in the background.
func (m *Manager) Upload(ctx context.Context, req Request) (*Task, error) {
	if req.SourceURI == "" {
		return nil, fmt.Errorf("%w: empty source uri", onboarding.ErrInvalidSection)
	}
	if req.DestinationKey == "" {
		return nil, fmt.Errorf("%w: empty destination key", onboarding.ErrInvalidSection)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		id:      uuid.NewString(),
		req:     req,
		reserve: m.maxAttempts,
		events:  make(chan Event, progressBuffer+m.maxAttempts),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	t.snap = Snapshot{ID: t.id, Target: req.DestinationKey, State: StateIdle}

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(taskCtx, t)
	}()
	return t, nil
}

// Cancel stops a running task. The task ends with onboarding.ErrCancelled.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	t.cancelled.Store(true)
	t.cancel()
	return nil
}

// Task returns a running task by id.
func (m *Manager) Task(taskID string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

// Active returns the number of tasks that have not finished.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Wait blocks until every started task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, t *Task) {
	start := m.now()
	defer func() {
		m.mu.Lock()
		delete(m.tasks, t.id)
		m.mu.Unlock()
		t.cancel()
	}()

	m.transition(ctx, t, func(s *Snapshot) { s.State = StatePicking })

	for attempt := 1; ; attempt++ {
		if t.cancelled.Load() || ctx.Err() != nil {
			m.finishCancelled(t, start)
			return
		}

		m.transition(ctx, t, func(s *Snapshot) {
			s.State = StateUploading
			s.Attempt = attempt
			s.Percent = 0
			s.Offset = 0
		})
		m.metrics.UploadAttempt()
		logging.Debug("Upload %s attempt %d/%d -> %s", t.id, attempt, m.maxAttempts, t.req.DestinationKey)

		url, err := m.attempt(ctx, t)
		if err == nil {
			if t.cancelled.Load() {
				m.finishCancelled(t, start)
				return
			}
			m.finish(t, start, Event{Kind: EventCompleted, Attempt: attempt, URL: url, Percent: 100}, func(s *Snapshot) {
				s.State = StateCompleted
				s.Percent = 100
				s.URL = url
			})
			m.metrics.UploadFinished(string(StateCompleted), m.now().Sub(start))
			return
		}

		if t.cancelled.Load() || ctx.Err() != nil {
			m.finishCancelled(t, start)
			return
		}

		code := m.classify(err)
		if !code.Retryable() || attempt >= m.maxAttempts {
			uerr := &onboarding.UploadError{Code: code, Attempts: attempt, Err: err}
			logging.Warn("Upload %s failed: %v", t.id, uerr)
			m.finish(t, start, Event{Kind: EventFailed, Attempt: attempt, Err: uerr}, func(s *Snapshot) {
				s.State = StateFailed
				s.Err = uerr.Message()
			})
			m.metrics.UploadFinished(string(StateFailed), m.now().Sub(start))
			return
		}

		delay := m.RetryDelay(attempt)
		logging.Warn("Upload %s attempt %d failed [%s], retrying in %v: %v", t.id, attempt, code, delay, err)
		t.emit(Event{Kind: EventRetry, Attempt: attempt + 1, Delay: delay, Err: err}, true)

		if err := m.sleep(ctx, delay); err != nil {
			m.finishCancelled(t, start)
			return
		}
	}
}

func (m *Manager) attempt(ctx context.Context, t *Task) (string, error) {
	attempt := t.Snapshot().Attempt
	first := true
	err := m.bucket.PutFile(ctx, t.req.DestinationKey, t.req.SourceURI, func(sent, total int64) {
		pct := percent(sent, total)
		var changed bool
		snap := t.update(func(s *Snapshot) {
			if s.Attempt != attempt || s.State != StateUploading {
				return
			}
			// The first tick of an attempt is always reported so readers
			// see the reset to 0.
			if first || pct > s.Percent {
				changed = true
				first = false
				s.Percent = max(pct, s.Percent)
			}
			s.Offset = sent
			s.Total = total
		})
		if !changed {
			return
		}
		t.emit(Event{Kind: EventProgress, Attempt: attempt, BytesTransferred: sent, TotalBytes: total, Percent: pct}, false)
		m.mirror(ctx, snap)
	})
	if err != nil {
		return "", err
	}
	return m.bucket.DownloadURL(ctx, t.req.DestinationKey)
}

func (m *Manager) transition(ctx context.Context, t *Task, fn func(*Snapshot)) {
	m.mirror(ctx, t.update(fn))
}

func (m *Manager) finishCancelled(t *Task, start time.Time) {
	err := fmt.Errorf("%s: %w", t.id, onboarding.ErrCancelled)
	m.finish(t, start, Event{Kind: EventCancelled, Attempt: t.Snapshot().Attempt, Err: err}, func(s *Snapshot) {
		s.State = StateCancelled
		s.Err = err.Error()
	})
	m.metrics.UploadFinished(string(StateCancelled), m.now().Sub(start))
}

func (m *Manager) finish(t *Task, start time.Time, ev Event, fn func(*Snapshot)) {
	snap := t.update(fn)
	// The task context may already be cancelled; the mirror still needs the
	// terminal state.
	m.mirror(context.Background(), snap)
	t.resolve(ev)
	logging.Debug("Upload %s finished %s in %v", t.id, snap.State, m.now().Sub(start))
}

func (m *Manager) mirror(ctx context.Context, snap Snapshot) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Record(ctx, snap); err != nil {
		logging.Debug("Upload %s progress mirror: %v", snap.ID, err)
	}
}

func percent(sent, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(sent) / float64(total) * 100))
	if p > 100 {
		p = 100
	}
	return p
}

// Task is one running or finished upload.
type Task struct {
	id        string
	req       Request
	reserve   int
	events    chan Event
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu     sync.Mutex
	closed bool
	snap   Snapshot
	url    string
	err    error
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Request returns the request the task was started with.
func (t *Task) Request() Request { return t.req }

// Events returns the task's event stream. It is closed after the terminal
// event. Progress ticks are dropped when the reader falls behind; retry and
// terminal events are always delivered.
func (t *Task) Events() <-chan Event { return t.events }

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait returns the download URL or the terminal error.
func (t *Task) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url, t.err
}

// Snapshot returns the current state of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Task) update(fn func(*Snapshot)) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
	t.snap.UpdatedAt = time.Now().UTC()
	return t.snap
}

// emit sends ev. Progress events are dropped rather than eating into the
// room reserved for retry and terminal events.
func (t *Task) emit(ev Event, critical bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	ev.TaskID = t.id
	if !critical && len(t.events) >= cap(t.events)-t.reserve {
		return
	}
	select {
	case t.events <- ev:
	default:
		// Only reachable for critical events when more retries were emitted
		// than attempts allow.
	}
}

func (t *Task) resolve(ev Event) {
	t.emit(ev, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.url = ev.URL
	t.err = ev.Err
	close(t.events)
	close(t.done)
}
