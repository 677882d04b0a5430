package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type scriptedBucket struct {
	mu      sync.Mutex
	calls   int
	results []error
	block   bool
}

func (b *scriptedBucket) PutFile(ctx context.Context, objectPath, localURI string, progress func(sent, total int64)) error {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()

	progress(0, 200)
	progress(100, 200)
	if b.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= len(b.results) && b.results[n-1] != nil {
		return b.results[n-1]
	}
	progress(200, 200)
	return nil
}

func (b *scriptedBucket) DownloadURL(ctx context.Context, objectPath string) (string, error) {
	return "https://cdn.test/" + objectPath, nil
}

func (b *scriptedBucket) Delete(ctx context.Context, objectPath string) error { return nil }

func (b *scriptedBucket) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type memorySink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *memorySink) Record(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memorySink) last() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[len(s.snaps)-1]
}

func drain(t *testing.T, task *Task) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream not closed; got %d events", len(events))
		}
	}
}

func kinds(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type ManagerSuite struct {
	suite.Suite
	bucket  *scriptedBucket
	sleeper *recordingSleeper
	sink    *memorySink
	ctx     context.Context
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.bucket = &scriptedBucket{}
	s.sleeper = &recordingSleeper{}
	s.sink = &memorySink{}
	s.ctx = context.Background()
}

func (s *ManagerSuite) manager(opts ...Option) *Manager {
	base := []Option{WithSleeper(s.sleeper.Sleep), WithProgressSink(s.sink)}
	return NewManager(s.bucket, append(base, opts...)...)
}

func (s *ManagerSuite) request() Request {
	return Request{SourceURI: "file:///tmp/cnh.jpg", DestinationKey: "drivers/u1/documents/driverLicense-1.jpg", ContentType: "image/jpeg"}
}

func (s *ManagerSuite) TestCompletesFirstAttempt() {
	m := s.manager()
	task, err := m.Upload(s.ctx, s.request())
	s.Require().NoError(err)

	events := drain(s.T(), task)
	url, err := task.Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal("https://cdn.test/drivers/u1/documents/driverLicense-1.jpg", url)

	last := events[len(events)-1]
	s.Equal(EventCompleted, last.Kind)
	s.Equal(url, last.URL)
	s.Equal(task.ID(), last.TaskID)

	var prev int
	for _, ev := range kinds(events, EventProgress) {
		s.GreaterOrEqual(ev.Percent, prev, "progress must not go backwards within an attempt")
		prev = ev.Percent
	}
	s.Equal(100, prev)

	snap := task.Snapshot()
	s.Equal(StateCompleted, snap.State)
	s.Equal(1, snap.Attempt)
	s.Equal(StateCompleted, s.sink.last().State)
	s.Equal(1, s.bucket.Calls())
}

func (s *ManagerSuite) TestRetryBoundOnRetryableError() {
	unavailable := &StorageError{Code: onboarding.CodeUnavailable, Err: errors.New("503")}
	s.bucket.results = []error{unavailable, unavailable, unavailable, unavailable}
	m := s.manager()

	task, err := m.Upload(s.ctx, s.request())
	s.Require().NoError(err)
	events := drain(s.T(), task)

	_, err = task.Wait(s.ctx)
	var uerr *onboarding.UploadError
	s.Require().ErrorAs(err, &uerr)
	s.Equal(onboarding.CodeUnavailable, uerr.Code)
	s.Equal(DefaultMaxAttempts, uerr.Attempts)
	s.Equal(DefaultMaxAttempts, s.bucket.Calls())

	retries := kinds(events, EventRetry)
	s.Require().Len(retries, DefaultMaxAttempts-1)
	s.Equal(2, retries[0].Attempt)
	s.Equal(time.Second, retries[0].Delay)
	s.Equal(2*time.Second, retries[1].Delay)
	s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.sleeper.delays)
	s.Equal(EventFailed, events[len(events)-1].Kind)
	s.Equal(StateFailed, task.Snapshot().State)
}

func (s *ManagerSuite) TestNoRetryOnPermanentError() {
	s.bucket.results = []error{&StorageError{Code: onboarding.CodeUnauthorized, Err: errors.New("403")}}
	m := s.manager()

	task, err := m.Upload(s.ctx, s.request())
	s.Require().NoError(err)
	events := drain(s.T(), task)

	_, err = task.Wait(s.ctx)
	var uerr *onboarding.UploadError
	s.Require().ErrorAs(err, &uerr)
	s.Equal(onboarding.CodeUnauthorized, uerr.Code)
	s.Equal(1, uerr.Attempts)
	s.False(uerr.Retryable())
	s.Equal("You do not have permission to upload files", uerr.Message())
	s.Equal(1, s.bucket.Calls())
	s.Empty(kinds(events, EventRetry))
}

func (s *ManagerSuite) TestRetryThenSucceedResetsProgress() {
	s.bucket.results = []error{io.ErrUnexpectedEOF}
	m := s.manager()

	task, err := m.Upload(s.ctx, s.request())
	s.Require().NoError(err)
	events := drain(s.T(), task)

	url, err := task.Wait(s.ctx)
	s.Require().NoError(err)
	s.NotEmpty(url)
	s.Equal(2, s.bucket.Calls())

	var sawReset bool
	var afterRetry bool
	for _, ev := range events {
		if ev.Kind == EventRetry {
			afterRetry = true
			continue
		}
		if afterRetry && ev.Kind == EventProgress {
			s.Equal(2, ev.Attempt)
			sawReset = ev.Percent == 0
			break
		}
	}
	s.True(sawReset, "second attempt should start from 0%%")
	s.Equal(2, task.Snapshot().Attempt)
}

func (s *ManagerSuite) TestCustomAttemptCap() {
	s.bucket.results = []error{errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom")}
	m := s.manager(WithMaxAttempts(5), WithBaseDelay(10*time.Millisecond))

	task, err := m.Upload(s.ctx, s.request())
	s.Require().NoError(err)
	drain(s.T(), task)

	_, err = task.Wait(s.ctx)
	var uerr *onboarding.UploadError
	s.Require().ErrorAs(err, &uerr)
	s.Equal(onboarding.CodeUnknown, uerr.Code)
	s.Equal(5, s.bucket.Calls())
	s.Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}, s.sleeper.delays)
}

func (s *ManagerSuite) TestCancelRunningTask() {
	s.bucket.block = true
	m := s.manager()

	task, err := m.Upload(s.ctx, s.request())
	s.Require().NoError(err)

	s.Eventually(func() bool { return s.bucket.Calls() == 1 }, time.Second, 5*time.Millisecond)
	s.Require().NoError(m.Cancel(task.ID()))

	events := drain(s.T(), task)
	_, err = task.Wait(s.ctx)
	s.ErrorIs(err, onboarding.ErrCancelled)
	s.Equal(EventCancelled, events[len(events)-1].Kind)
	s.Equal(StateCancelled, task.Snapshot().State)
	s.Equal(StateCancelled, s.sink.last().State)
	s.Equal(1, s.bucket.Calls())

	m.Wait()
	s.Equal(0, m.Active())
	s.ErrorIs(m.Cancel(task.ID()), ErrTaskNotFound)
}

func (s *ManagerSuite) TestCancelUnknownTask() {
	m := s.manager()
	s.ErrorIs(m.Cancel("nope"), ErrTaskNotFound)
}

func (s *ManagerSuite) TestParentContextCancel() {
	s.bucket.block = true
	m := s.manager()
	ctx, cancel := context.WithCancel(s.ctx)

	task, err := m.Upload(ctx, s.request())
	s.Require().NoError(err)
	s.Eventually(func() bool { return s.bucket.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	drain(s.T(), task)
	_, err = task.Wait(s.ctx)
	s.ErrorIs(err, onboarding.ErrCancelled)
}

func (s *ManagerSuite) TestRejectsEmptyRequest() {
	m := s.manager()
	_, err := m.Upload(s.ctx, Request{DestinationKey: "x"})
	s.Error(err)
	_, err = m.Upload(s.ctx, Request{SourceURI: "x"})
	s.Error(err)
}

func TestDirBucket_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	payload := make([]byte, 150*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(src, payload, 0644))

	bucket, err := NewDirBucket(filepath.Join(dir, "bucket"), "https://files.test/", 0)
	require.NoError(t, err)

	m := NewManager(bucket)
	task, err := m.Upload(context.Background(), Request{SourceURI: "file://" + filepath.ToSlash(src), DestinationKey: "drivers/u1/vehicle-photos/front-1.jpg"})
	require.NoError(t, err)
	events := drain(t, task)

	url, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://files.test/drivers/u1/vehicle-photos/front-1.jpg", url)

	stored, err := os.ReadFile(filepath.Join(bucket.Root(), "drivers", "u1", "vehicle-photos", "front-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	progress := kinds(events, EventProgress)
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(len(payload)), progress[len(progress)-1].TotalBytes)

	require.NoError(t, bucket.Delete(context.Background(), "drivers/u1/vehicle-photos/front-1.jpg"))
	_, err = bucket.DownloadURL(context.Background(), "drivers/u1/vehicle-photos/front-1.jpg")
	assert.Equal(t, onboarding.CodeObjectNotFound, Classify(err))
}

func TestDirBucket_Limits(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.jpg")
	require.NoError(t, os.WriteFile(src, make([]byte, 2048), 0644))

	bucket, err := NewDirBucket(filepath.Join(dir, "bucket"), "", 1024)
	require.NoError(t, err)

	err = bucket.PutFile(context.Background(), "a/b.jpg", src, nil)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, onboarding.CodeInvalidArgument, Classify(err))

	err = bucket.PutFile(context.Background(), "../escape.jpg", src, nil)
	assert.Equal(t, onboarding.CodeInvalidArgument, Classify(err))

	err = bucket.PutFile(context.Background(), "a/missing.jpg", filepath.Join(dir, "missing.jpg"), nil)
	assert.Equal(t, onboarding.CodeInvalidArgument, Classify(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want onboarding.UploadCode
	}{
		{"storage code", &StorageError{Code: onboarding.CodeQuotaExceeded, Err: errors.New("full")}, onboarding.CodeQuotaExceeded},
		{"wrapped upload error", &onboarding.UploadError{Code: onboarding.CodeInvalidChecksum}, onboarding.CodeInvalidChecksum},
		{"canceled", context.Canceled, onboarding.CodeCanceled},
		{"timeout", context.DeadlineExceeded, onboarding.CodeUnavailable},
		{"eof", io.ErrUnexpectedEOF, onboarding.CodeUnavailable},
		{"missing source", os.ErrNotExist, onboarding.CodeInvalidArgument},
		{"permission", os.ErrPermission, onboarding.CodeUnauthorized},
		{"other", errors.New("weird"), onboarding.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestObjectPath(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "drivers/u1/documents/driverLicense-1700000000123.jpg",
		ObjectPath("u1", onboarding.FileKey{Section: onboarding.SectionDocuments, Slot: "driverLicense"}, at))
	assert.Equal(t, "drivers/u1/vehicle-photos/interior-1700000000123.jpg",
		ObjectPath("u1", onboarding.FileKey{Section: onboarding.SectionPhotos, Slot: "interior"}, at))
}
