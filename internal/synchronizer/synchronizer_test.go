package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	cpmocks "github.com/johndauphine/onboard-sync/internal/checkpoint/mocks"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/remote"
	remotemocks "github.com/johndauphine/onboard-sync/internal/remote/mocks"
)

var errOffline = fmt.Errorf("%w: connection refused", remote.ErrUnavailable)

type recordingNotifier struct {
	mu       sync.Mutex
	sweeps   [][]string
	submits  []string
	uploads  []string
	failWith error
}

func (n *recordingNotifier) SubmissionReceived(userID string, _ time.Time, _, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submits = append(n.submits, userID)
	return n.failWith
}

func (n *recordingNotifier) SyncSweepFailed(_, _ int, failures []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sweeps = append(n.sweeps, failures)
	return n.failWith
}

func (n *recordingNotifier) UploadFailed(taskID, _ string, _ int, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uploads = append(n.uploads, taskID)
	return n.failWith
}

type SynchronizerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	local    *cpmocks.MockBackend
	store    *remotemocks.MockStore
	notifier *recordingNotifier
	now      time.Time
	sync     *Synchronizer
}

func TestSynchronizerSuite(t *testing.T) {
	suite.Run(t, new(SynchronizerSuite))
}

func (s *SynchronizerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.local = cpmocks.NewMockBackend(s.ctrl)
	s.store = remotemocks.NewMockStore(s.ctrl)
	s.notifier = &recordingNotifier{}
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.sync = New(s.local, s.store, StaticIdentity("u1"),
		WithNotifier(s.notifier),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *SynchronizerSuite) record(step int) *onboarding.ProgressRecord {
	rec := onboarding.NewRecord("u1", s.now)
	rec.CurrentStep = step
	rec.Progress = onboarding.ProgressFor(step, rec.TotalSteps)
	return rec
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_LocalBeforeRemote() {
	ctx := context.Background()
	var written onboarding.Patch
	saved := s.record(2)
	saved.CompletedSteps = []int{1}
	saved.Sections.Personal = &onboarding.PersonalSection{FirstName: "Ana"}

	gomock.InOrder(
		s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil),
		s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(nil, nil),
		s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, p onboarding.Patch) error {
				written = p
				return nil
			}),
		s.local.EXPECT().Read(gomock.Any(), "u1").Return(saved, nil),
		s.store.EXPECT().Set(gomock.Any(), remote.ProgressCollection, "u1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, data map[string]any, _ ...remote.SetOption) error {
				s.Equal("synced", data["syncStatus"])
				s.EqualValues(2, data["currentStep"])
				return nil
			}),
		s.local.EXPECT().MarkSynced(gomock.Any(), "u1", gomock.Any()).Return(nil),
	)

	res, err := s.sync.SaveStepDataAndAdvance(ctx, 1, map[string]any{"firstName": "Ana"}, 2)
	s.Require().NoError(err)
	s.True(res.Synced)
	s.NoError(res.RemoteErr)
	s.Equal(onboarding.SyncSynced, res.Record.SyncStatus)

	s.Require().NotNil(written.CurrentStep)
	s.Equal(2, *written.CurrentStep)
	s.Equal([]int{1}, written.CompletedSteps)
	s.Equal(onboarding.SyncPending, *written.SyncStatus)
	s.Require().NotNil(written.Sections)
	s.Equal("Ana", written.Sections.Personal.FirstName)
	s.Nil(written.Sections.Vehicle)
	s.Equal(s.now, written.StepCompletionTimes[1])
	s.Equal(onboarding.DefaultTotalSteps, *written.TotalSteps)
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_LocalFailureSkipsRemote() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(1), nil)
	s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).Return(errors.New("disk full"))

	res, err := s.sync.SaveStepDataAndAdvance(context.Background(), 1, map[string]any{"firstName": "Ana"}, 2)
	s.Nil(res)
	var localErr *onboarding.LocalWriteError
	s.Require().ErrorAs(err, &localErr)
	s.Equal("u1", localErr.UserID)
	s.Equal(onboarding.KindLocal, onboarding.Kind(err))
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_RemoteFailureKeepsPending() {
	saved := s.record(2)
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(1), nil)
	s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).Return(nil)
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(saved, nil)
	s.store.EXPECT().Set(gomock.Any(), remote.ProgressCollection, "u1", gomock.Any()).Return(errOffline)

	res, err := s.sync.SaveStepDataAndAdvance(context.Background(), 1, map[string]any{"firstName": "Ana"}, 2)
	s.Require().NoError(err)
	s.False(res.Synced)
	s.Equal(onboarding.SyncPending, res.Record.SyncStatus)
	var remoteErr *onboarding.RemoteError
	s.Require().ErrorAs(res.RemoteErr, &remoteErr)
	s.Equal("set", remoteErr.Op)
	s.ErrorIs(res.RemoteErr, errOffline)
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_MarkSyncedFailure() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(1), nil)
	s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).Return(nil)
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(2), nil)
	s.store.EXPECT().Set(gomock.Any(), remote.ProgressCollection, "u1", gomock.Any()).Return(nil)
	s.local.EXPECT().MarkSynced(gomock.Any(), "u1", gomock.Any()).Return(errors.New("locked"))

	res, err := s.sync.SaveStepDataAndAdvance(context.Background(), 1, nil, 2)
	s.Require().NoError(err)
	s.False(res.Synced)
	s.NoError(res.RemoteErr)
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_RemoteReadFailureStillSaves() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(nil, errOffline)
	s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).Return(nil)
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(2), nil)
	s.store.EXPECT().Set(gomock.Any(), remote.ProgressCollection, "u1", gomock.Any()).Return(errOffline)

	res, err := s.sync.SaveStepDataAndAdvance(context.Background(), 1, map[string]any{"firstName": "Ana"}, 2)
	s.Require().NoError(err)
	s.Error(res.RemoteErr)
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_UndecodableRemoteAborts() {
	doc := &remote.Document{Data: map[string]any{
		"currentStep":    "three",
		"completedSteps": []any{float64(1), float64(2)},
	}}
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(doc, nil)

	// No local write and no remote Set are expected
	res, err := s.sync.SaveStepDataAndAdvance(context.Background(), 3, nil, 4)
	s.Nil(res)
	var remoteErr *onboarding.RemoteError
	s.Require().ErrorAs(err, &remoteErr)
	s.Equal("decode", remoteErr.Op)
}

func (s *SynchronizerSuite) TestUpdateCurrentStep_NonOutageReadFailureAborts() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(nil, errors.New("permission denied"))

	_, err := s.sync.UpdateCurrentStep(context.Background(), 2)
	s.True(IsRemoteFailure(err))
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_NotAuthenticated() {
	anon := New(s.local, s.store, StaticIdentity(""))
	_, err := anon.SaveStepDataAndAdvance(context.Background(), 1, nil, 2)
	s.ErrorIs(err, onboarding.ErrNotAuthenticated)

	_, err = New(s.local, s.store, nil).UpdateCurrentStep(context.Background(), 2)
	s.ErrorIs(err, onboarding.ErrNotAuthenticated)
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_StepOutOfRange() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(1), nil).Times(2)

	_, err := s.sync.SaveStepDataAndAdvance(context.Background(), 1, nil, 9)
	s.ErrorIs(err, onboarding.ErrStepOutOfRange)

	_, err = s.sync.SaveStepDataAndAdvance(context.Background(), 0, nil, 2)
	s.ErrorIs(err, onboarding.ErrStepOutOfRange)
}

func (s *SynchronizerSuite) TestSaveStepDataAndAdvance_InvalidSection() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(1), nil)

	_, err := s.sync.SaveStepDataAndAdvance(context.Background(), 1, map[string]any{"firstName": 42}, 2)
	s.ErrorIs(err, onboarding.ErrInvalidSection)
	s.Equal(onboarding.KindValidation, onboarding.Kind(err))
}

func (s *SynchronizerSuite) TestGetProgress_LocalWins() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(s.record(3), nil)

	rec, err := s.sync.GetProgress(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal(3, rec.CurrentStep)
}

func (s *SynchronizerSuite) TestGetProgress_ReseedsFromRemote() {
	doc := &remote.Document{
		Collection: remote.ProgressCollection,
		ID:         "u1",
		Data: map[string]any{
			"currentStep":    float64(4),
			"totalSteps":     float64(8),
			"completedSteps": []any{float64(1), float64(2), float64(3)},
			"sections":       map[string]any{"personal": map[string]any{"firstName": "Ana"}},
			"syncStatus":     "pending",
			"updatedAt":      "2025-03-01T11:00:00Z",
		},
	}
	var seeded onboarding.Patch
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(doc, nil)
	s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p onboarding.Patch) error {
			seeded = p
			return nil
		})

	rec, err := s.sync.GetProgress(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal(4, rec.CurrentStep)
	s.Equal(50, rec.Progress)
	s.Equal([]int{1, 2, 3}, rec.CompletedSteps)
	s.Equal(onboarding.SyncSynced, rec.SyncStatus)
	s.Equal("Ana", rec.Sections.Personal.FirstName)

	s.Require().NotNil(seeded.SyncStatus)
	s.Equal(onboarding.SyncSynced, *seeded.SyncStatus)
	s.Equal(4, *seeded.CurrentStep)
}

func (s *SynchronizerSuite) TestGetProgress_ReseedFailureIsNotFatal() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").
		Return(&remote.Document{Data: map[string]any{"currentStep": float64(2)}}, nil)
	s.local.EXPECT().Write(gomock.Any(), "u1", gomock.Any()).Return(errors.New("read-only"))

	rec, err := s.sync.GetProgress(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal(2, rec.CurrentStep)
}

func (s *SynchronizerSuite) TestGetProgress_Absent() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(nil, nil)

	rec, err := s.sync.GetProgress(context.Background(), "u1")
	s.NoError(err)
	s.Nil(rec)
}

func (s *SynchronizerSuite) TestGetProgress_RemoteFailure() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, nil)
	s.store.EXPECT().Get(gomock.Any(), remote.ProgressCollection, "u1").Return(nil, errOffline)

	rec, err := s.sync.GetProgress(context.Background(), "u1")
	s.Nil(rec)
	var remoteErr *onboarding.RemoteError
	s.Require().ErrorAs(err, &remoteErr)
	s.Equal("get", remoteErr.Op)
	s.Equal(onboarding.KindRemote, onboarding.Kind(err))
}

func (s *SynchronizerSuite) TestGetProgress_LocalFailure() {
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(nil, errors.New("corrupt"))

	_, err := s.sync.GetProgress(context.Background(), "u1")
	s.ErrorContains(err, "reading local progress")
}

func (s *SynchronizerSuite) TestClearProgress() {
	s.local.EXPECT().Delete(gomock.Any(), "u1").Return(nil)
	s.store.EXPECT().Delete(gomock.Any(), remote.ProgressCollection, "u1").Return(nil)

	res, err := s.sync.ClearProgress(context.Background(), "u1")
	s.Require().NoError(err)
	s.NoError(res.RemoteErr)
}

func (s *SynchronizerSuite) TestClearProgress_RemoteBestEffort() {
	s.local.EXPECT().Delete(gomock.Any(), "u1").Return(nil)
	s.store.EXPECT().Delete(gomock.Any(), remote.ProgressCollection, "u1").Return(errOffline)

	res, err := s.sync.ClearProgress(context.Background(), "u1")
	s.Require().NoError(err)
	s.ErrorIs(res.RemoteErr, errOffline)
}

func (s *SynchronizerSuite) TestClearProgress_LocalFailure() {
	s.local.EXPECT().Delete(gomock.Any(), "u1").Return(errors.New("locked"))

	_, err := s.sync.ClearProgress(context.Background(), "u1")
	s.Error(err)
}

func (s *SynchronizerSuite) TestSyncPendingData() {
	u1 := *s.record(2)
	u1.LastSavedAt = s.now.Add(-time.Minute)
	u2 := *s.record(3)
	u2.UserID = "u2"

	s.local.EXPECT().ListPending(gomock.Any()).Return([]onboarding.ProgressRecord{u1, u2}, nil)
	s.store.EXPECT().Set(gomock.Any(), remote.ProgressCollection, "u1", gomock.Any()).Return(nil)
	s.store.EXPECT().Set(gomock.Any(), remote.ProgressCollection, "u2", gomock.Any()).Return(errOffline)
	// Only the version that was pushed may be marked synced
	s.local.EXPECT().MarkSynced(gomock.Any(), "u1", u1.LastSavedAt).Return(nil)
	s.local.EXPECT().ListPending(gomock.Any()).Return([]onboarding.ProgressRecord{u2}, nil)

	res, err := s.sync.SyncPendingData(context.Background())
	s.Require().NoError(err)
	s.Equal(2, res.Attempted)
	s.Equal(1, res.Synced)
	s.Equal(1, res.Failed)
	s.Require().Len(res.Errors, 1)
	s.ErrorIs(res.Errors[0], errOffline)
	s.Contains(res.Errors[0].Error(), "u2")

	s.Require().Len(s.notifier.sweeps, 1)
	s.Len(s.notifier.sweeps[0], 1)
}

func (s *SynchronizerSuite) TestSyncPendingData_NothingPending() {
	s.local.EXPECT().ListPending(gomock.Any()).Return(nil, nil)

	res, err := s.sync.SyncPendingData(context.Background())
	s.Require().NoError(err)
	s.Equal(SweepResult{}, *res)
	s.Empty(s.notifier.sweeps)
}

func (s *SynchronizerSuite) TestSyncPendingData_ListFailure() {
	s.local.EXPECT().ListPending(gomock.Any()).Return(nil, errors.New("corrupt"))

	_, err := s.sync.SyncPendingData(context.Background())
	s.Error(err)
}

func (s *SynchronizerSuite) TestSubmit_Incomplete() {
	rec := s.record(5)
	rec.Sections.Personal = &onboarding.PersonalSection{FirstName: "Ana", LastName: "Diaz"}
	s.local.EXPECT().Read(gomock.Any(), "u1").Return(rec, nil)

	_, err := s.sync.Submit(context.Background())
	s.ErrorIs(err, onboarding.ErrValidationIncomplete)
	s.ErrorContains(err, "personal.email")
	s.Empty(s.notifier.submits)
}

func (s *SynchronizerSuite) TestGetStatus_DefaultsToDraft() {
	s.store.EXPECT().Get(gomock.Any(), remote.StatusCollection, "u1").Return(nil, nil)

	st, err := s.sync.GetStatus(context.Background(), "u1")
	s.Require().NoError(err)
	s.Equal(onboarding.ReviewDraft, st.Status)
	s.Equal(24, st.EstimatedReviewHours)
}

func (s *SynchronizerSuite) TestGetStatus_RemoteFailure() {
	s.store.EXPECT().Get(gomock.Any(), remote.StatusCollection, "u1").Return(nil, errOffline)

	_, err := s.sync.GetStatus(context.Background(), "u1")
	s.True(IsRemoteFailure(err))
}

func (s *SynchronizerSuite) TestTrackUpload() {
	s.local.EXPECT().SaveFileSlot(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, slot checkpoint.FileSlot) error {
			s.Equal("u1", slot.UserID)
			s.Equal(s.now, slot.UpdatedAt)
			return nil
		})

	err := s.sync.TrackUpload(context.Background(), checkpoint.FileSlot{
		Key:    onboarding.FileKey{Section: onboarding.SectionDocuments, Slot: "driverLicense"},
		Status: checkpoint.SlotUploading,
	})
	s.Require().NoError(err)

	err = s.sync.TrackUpload(context.Background(), checkpoint.FileSlot{
		Key: onboarding.FileKey{Section: onboarding.SectionDocuments, Slot: "passport"},
	})
	s.ErrorIs(err, onboarding.ErrInvalidSection)
}
