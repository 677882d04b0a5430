package synchronizer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/remote"
	"github.com/johndauphine/onboard-sync/internal/review"
)

type backendFactory func(t *testing.T) checkpoint.Backend

var backends = map[string]backendFactory{
	"sqlite": func(t *testing.T) checkpoint.Backend {
		st, err := checkpoint.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	},
	"file": func(t *testing.T) checkpoint.Backend {
		fs, err := checkpoint.NewFileState(filepath.Join(t.TempDir(), "state.yaml"))
		require.NoError(t, err)
		return fs
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, local checkpoint.Backend)) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestScenario_FirstStepSave(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		store := remote.NewMemoryStore()
		s := New(local, store, StaticIdentity("driver-1"))

		res, err := s.SaveStepDataAndAdvance(ctx, 1, map[string]any{"firstName": "Ana"}, 2)
		require.NoError(t, err)
		require.NoError(t, res.RemoteErr)
		assert.True(t, res.Synced)

		rec, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, 2, rec.CurrentStep)
		assert.Equal(t, 25, rec.Progress)
		assert.Equal(t, []int{1}, rec.CompletedSteps)
		assert.Equal(t, "Ana", rec.Sections.Personal.FirstName)
		assert.Equal(t, onboarding.SyncSynced, rec.SyncStatus)

		doc, err := store.Get(ctx, remote.ProgressCollection, "driver-1")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.EqualValues(t, 2, doc.Data["currentStep"])
		assert.NotEmpty(t, doc.Data[remote.UpdatedAtField])
	})
}

func TestScenario_IdempotentSave(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		s := New(local, remote.NewMemoryStore(), StaticIdentity("driver-1"))

		payload := map[string]any{"firstName": "Ana", "lastName": "Diaz"}
		_, err := s.SaveStepDataAndAdvance(ctx, 1, payload, 2)
		require.NoError(t, err)
		first, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)

		_, err = s.SaveStepDataAndAdvance(ctx, 1, payload, 2)
		require.NoError(t, err)
		second, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)

		assert.Equal(t, first.CurrentStep, second.CurrentStep)
		assert.Equal(t, first.CompletedSteps, second.CompletedSteps)
		assert.Equal(t, first.Sections, second.Sections)
		assert.Equal(t, first.StepCompletionTimes[1].Unix(), second.StepCompletionTimes[1].Unix())
	})
}

func TestScenario_MergeNotReplace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		s := New(local, remote.NewMemoryStore(), StaticIdentity("driver-1"))

		_, err := s.SaveStepDataAndAdvance(ctx, 1, map[string]any{"firstName": "Ana"}, 2)
		require.NoError(t, err)
		_, err = s.SaveStepDataAndAdvance(ctx, 1, onboarding.PersonalSection{LastName: "Diaz"}, 2)
		require.NoError(t, err)
		_, err = s.SaveStepDataAndAdvance(ctx, 2, map[string]any{"make": "Toyota", "year": "2019"}, 3)
		require.NoError(t, err)

		rec, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)
		assert.Equal(t, "Ana", rec.Sections.Personal.FirstName)
		assert.Equal(t, "Diaz", rec.Sections.Personal.LastName)
		assert.Equal(t, "Toyota", rec.Sections.Vehicle.Make)
		assert.Equal(t, []int{1, 2}, rec.CompletedSteps)
		assert.Equal(t, 3, rec.CurrentStep)
	})
}

func TestScenario_FormPayloads(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		store := remote.NewMemoryStore()
		s := New(local, store, StaticIdentity("driver-1"))

		personal := map[string]any{
			"firstName":   "Ana",
			"lastName":    "Diaz",
			"phoneNumber": "+56 9 1234 5678",
			"birthDate":   "1990-04-12",
			"address":     "Av. Providencia 1234",
			"city":        "Santiago",
			"state":       "RM",
			"emergencyContact": map[string]any{
				"name": "Luis", "phoneNumber": "+56 9 8765 4321", "relationship": "brother",
			},
			"status":    "Revisión",
			"isBlocked": false,
		}
		res, err := s.SaveStepDataAndAdvance(ctx, 1, personal, 2)
		require.NoError(t, err)
		assert.True(t, res.Synced)

		vehicle := map[string]any{"make": "Toyota", "model": "Yaris", "year": 2020, "licensePlate": "ABCD12", "color": "white"}
		_, err = s.SaveStepDataAndAdvance(ctx, 2, vehicle, 3)
		require.NoError(t, err)

		rec, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "1990-04-12", rec.Sections.Personal.BirthDate)
		assert.Equal(t, "+56 9 8765 4321", rec.Sections.Personal.EmergencyContact.PhoneNumber)
		assert.Equal(t, onboarding.ModelYear("2020"), rec.Sections.Vehicle.Year)
		assert.Equal(t, []int{1, 2}, rec.CompletedSteps)

		doc, err := store.Get(ctx, remote.ProgressCollection, "driver-1")
		require.NoError(t, err)
		sections := doc.Data["sections"].(map[string]any)
		assert.EqualValues(t, 2020, sections["vehicle"].(map[string]any)["year"])
	})
}

func TestScenario_SecondDeviceKeepsRemoteHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		store := remote.NewMemoryStore()
		require.NoError(t, store.Set(ctx, remote.ProgressCollection, "driver-1", map[string]any{
			"currentStep":    3,
			"totalSteps":     8,
			"completedSteps": []any{1, 2},
			"sections": map[string]any{
				"personal": map[string]any{"firstName": "Ana", "birthDate": "1990-04-12"},
				"vehicle":  map[string]any{"make": "Toyota", "year": 2020},
			},
		}))
		s := New(local, store, StaticIdentity("driver-1"))

		res, err := s.SaveStepDataAndAdvance(ctx, 3, nil, 4)
		require.NoError(t, err)
		assert.True(t, res.Synced)
		assert.Equal(t, []int{1, 2, 3}, res.Record.CompletedSteps)

		doc, err := store.Get(ctx, remote.ProgressCollection, "driver-1")
		require.NoError(t, err)
		assert.EqualValues(t, []any{float64(1), float64(2), float64(3)}, doc.Data["completedSteps"])
		vehicle := doc.Data["sections"].(map[string]any)["vehicle"].(map[string]any)
		assert.EqualValues(t, 2020, vehicle["year"])
	})
}

func TestScenario_UndecodableRemoteIsNotOverwritten(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		store := remote.NewMemoryStore()
		require.NoError(t, store.Set(ctx, remote.ProgressCollection, "driver-1", map[string]any{
			"currentStep":    3,
			"completedSteps": []any{1, 2},
			"sections":       map[string]any{"vehicle": map[string]any{"year": map[string]any{"from": 2019}}},
		}))
		s := New(local, store, StaticIdentity("driver-1"))

		_, err := s.SaveStepDataAndAdvance(ctx, 3, nil, 4)
		require.Error(t, err)
		assert.Equal(t, onboarding.KindRemote, onboarding.Kind(err))

		rec, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)
		assert.Nil(t, rec)
		doc, err := store.Get(ctx, remote.ProgressCollection, "driver-1")
		require.NoError(t, err)
		assert.EqualValues(t, []any{float64(1), float64(2)}, doc.Data["completedSteps"])
	})
}

func TestScenario_OfflineThenSweep(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		store := remote.NewMemoryStore()
		store.FailWith(errors.New("network down"))
		s := New(local, store, StaticIdentity("driver-1"))

		res, err := s.SaveStepDataAndAdvance(ctx, 1, map[string]any{"firstName": "Ana"}, 2)
		require.NoError(t, err)
		assert.False(t, res.Synced)
		assert.ErrorIs(t, res.RemoteErr, remote.ErrUnavailable)

		rec, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)
		assert.Equal(t, onboarding.SyncPending, rec.SyncStatus)

		// Still offline: the sweep leaves the record pending
		sweep, err := s.SyncPendingData(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sweep.Attempted)
		assert.Equal(t, 1, sweep.Failed)

		store.FailWith(nil)
		sweep, err = s.SyncPendingData(ctx)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Attempted: 1, Synced: 1}, *sweep)

		rec, err = local.Read(ctx, "driver-1")
		require.NoError(t, err)
		assert.Equal(t, onboarding.SyncSynced, rec.SyncStatus)

		pending, err := local.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		doc, err := store.Get(ctx, remote.ProgressCollection, "driver-1")
		require.NoError(t, err)
		require.NotNil(t, doc)
	})
}

func TestScenario_ProgressMonotonicForward(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		s := New(local, remote.NewMemoryStore(), StaticIdentity("driver-1"))

		last := 0
		for step := 1; step < onboarding.DefaultTotalSteps; step++ {
			res, err := s.SaveStepDataAndAdvance(ctx, step, nil, step+1)
			require.NoError(t, err)
			assert.Greater(t, res.Record.Progress, last, "step %d", step)
			last = res.Record.Progress
		}
		assert.Equal(t, 100, last)
	})
}

func TestScenario_ResumeFromRemote(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()

	first := backends["file"](t)
	_, err := New(first, store, StaticIdentity("driver-1")).
		SaveStepDataAndAdvance(ctx, 2, map[string]any{"make": "Honda"}, 3)
	require.NoError(t, err)

	// A fresh device has no local state
	fresh := backends["sqlite"](t)
	s := New(fresh, store, StaticIdentity("driver-1"))
	rec, err := s.GetProgress(ctx, "driver-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.CurrentStep)
	assert.Equal(t, "Honda", rec.Sections.Vehicle.Make)

	seeded, err := fresh.Read(ctx, "driver-1")
	require.NoError(t, err)
	require.NotNil(t, seeded)
	assert.Equal(t, 3, seeded.CurrentStep)
	assert.Equal(t, onboarding.SyncSynced, seeded.SyncStatus)
}

func TestScenario_UpdateCurrentStepNavigatesBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		s := New(local, remote.NewMemoryStore(), StaticIdentity("driver-1"))

		_, err := s.SaveStepDataAndAdvance(ctx, 1, map[string]any{"firstName": "Ana"}, 2)
		require.NoError(t, err)
		res, err := s.UpdateCurrentStep(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Record.CurrentStep)
		assert.Equal(t, 13, res.Record.Progress)
		assert.Equal(t, "Ana", res.Record.Sections.Personal.FirstName)
		assert.Equal(t, []int{1}, res.Record.CompletedSteps)

		_, err = s.UpdateCurrentStep(ctx, 9)
		assert.ErrorIs(t, err, onboarding.ErrStepOutOfRange)
	})
}

func TestScenario_SeedStepDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		s := New(local, remote.NewMemoryStore(), StaticIdentity("driver-1"))

		seeded, err := s.SeedStepDefaults(ctx, 2, onboarding.VehicleSection{Color: "white"})
		require.NoError(t, err)
		assert.True(t, seeded)

		_, err = s.SaveStepDataAndAdvance(ctx, 2, map[string]any{"color": "black"}, 3)
		require.NoError(t, err)

		seeded, err = s.SeedStepDefaults(ctx, 2, onboarding.VehicleSection{Color: "white"})
		require.NoError(t, err)
		assert.False(t, seeded)

		rec, err := local.Read(ctx, "driver-1")
		require.NoError(t, err)
		assert.Equal(t, "black", rec.Sections.Vehicle.Color)

		seeded, err = s.SeedStepDefaults(ctx, 1, nil)
		require.NoError(t, err)
		assert.False(t, seeded)
	})
}

func TestScenario_ClearProgress(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		store := remote.NewMemoryStore()
		s := New(local, store, StaticIdentity("driver-1"))

		_, err := s.SaveStepDataAndAdvance(ctx, 1, map[string]any{"firstName": "Ana"}, 2)
		require.NoError(t, err)

		res, err := s.ClearProgress(ctx, "driver-1")
		require.NoError(t, err)
		assert.NoError(t, res.RemoteErr)

		rec, err := s.GetProgress(ctx, "driver-1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func completeApplication(t *testing.T, ctx context.Context, s *Synchronizer) {
	t.Helper()
	_, err := s.SaveStepDataAndAdvance(ctx, 1, onboarding.PersonalSection{
		FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com",
	}, 2)
	require.NoError(t, err)
	_, err = s.SaveStepDataAndAdvance(ctx, 2, onboarding.VehicleSection{
		Make: "Toyota", Model: "Corolla", LicensePlate: "ABC-123",
	}, 3)
	require.NoError(t, err)
	for _, slot := range onboarding.DocumentSlots {
		_, err := s.AttachUpload(ctx, onboarding.FileKey{Section: onboarding.SectionDocuments, Slot: slot},
			onboarding.FileRef{Name: slot + ".jpg", UploadURL: "https://cdn.test/" + slot})
		require.NoError(t, err)
	}
	_, err = s.SaveStepDataAndAdvance(ctx, 3, nil, 4)
	require.NoError(t, err)
	for _, slot := range onboarding.PhotoSlots {
		_, err := s.AttachUpload(ctx, onboarding.FileKey{Section: onboarding.SectionPhotos, Slot: slot},
			onboarding.FileRef{Name: slot + ".jpg", UploadURL: "https://cdn.test/" + slot})
		require.NoError(t, err)
	}
	_, err = s.SaveStepDataAndAdvance(ctx, 4, nil, 5)
	require.NoError(t, err)
}

func TestScenario_AttachUploadDoesNotAdvance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx := context.Background()
		s := New(local, remote.NewMemoryStore(), StaticIdentity("driver-1"))

		_, err := s.UpdateCurrentStep(ctx, 3)
		require.NoError(t, err)
		key := onboarding.FileKey{Section: onboarding.SectionDocuments, Slot: "driverLicense"}
		res, err := s.AttachUpload(ctx, key, onboarding.FileRef{UploadURL: "https://cdn.test/dl"})
		require.NoError(t, err)

		assert.Equal(t, 3, res.Record.CurrentStep)
		assert.Empty(t, res.Record.CompletedSteps)
		dl := res.Record.Sections.Documents.DriverLicense
		require.NotNil(t, dl)
		assert.Equal(t, "https://cdn.test/dl", dl.UploadURL)
		assert.Equal(t, 100, dl.UploadProgress)
		assert.Equal(t, checkpoint.SlotCompleted, dl.UploadStatus)

		_, err = s.AttachUpload(ctx, key, onboarding.FileRef{})
		assert.ErrorIs(t, err, onboarding.ErrInvalidSection)
	})
}

func TestScenario_SubmitAndWatchStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, local checkpoint.Backend) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := remote.NewMemoryStore()
		publisher := &review.MemoryPublisher{}
		notifier := &recordingNotifier{}
		s := New(local, store, StaticIdentity("driver-1"),
			WithPublisher(publisher), WithNotifier(notifier))

		var statuses []onboarding.ReviewStatus
		unsub, err := s.SubscribeStatus(ctx, "driver-1", func(st *onboarding.OnboardingStatus) {
			statuses = append(statuses, st.Status)
		}, nil)
		require.NoError(t, err)
		defer unsub()

		completeApplication(t, ctx, s)
		res, err := s.Submit(ctx)
		require.NoError(t, err)
		assert.NoError(t, res.PublishErr)
		assert.True(t, res.Synced)
		assert.True(t, res.Record.IsCompleted)
		assert.NotNil(t, res.Record.SubmittedAt)
		assert.Equal(t, onboarding.StepPendingReview, res.Record.CurrentStep)

		st, err := s.GetStatus(ctx, "driver-1")
		require.NoError(t, err)
		assert.Equal(t, onboarding.ReviewSubmitted, st.Status)
		require.NotNil(t, st.SubmittedAt)
		assert.WithinDuration(t, time.Now(), *st.SubmittedAt, time.Minute)

		assert.Equal(t, []onboarding.ReviewStatus{onboarding.ReviewDraft, onboarding.ReviewSubmitted}, statuses)

		subs := publisher.Submissions()
		require.Len(t, subs, 1)
		assert.Equal(t, "driver-1", subs[0].UserID)
		assert.Len(t, subs[0].Documents, len(onboarding.DocumentSlots))
		assert.Len(t, subs[0].Photos, len(onboarding.PhotoSlots))
		assert.Equal(t, []string{"driver-1"}, notifier.submits)
	})
}

func TestScenario_SubmitRequiresRemote(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	s := New(backends["file"](t), store, StaticIdentity("driver-1"))
	completeApplication(t, ctx, s)

	store.FailWith(errors.New("network down"))
	_, err := s.Submit(ctx)
	assert.True(t, IsRemoteFailure(err))

	rec, err := s.GetProgress(ctx, "driver-1")
	require.NoError(t, err)
	assert.False(t, rec.IsCompleted)
}

func TestScenario_SubmitPublishFailureIsReported(t *testing.T) {
	ctx := context.Background()
	publisher := &review.MemoryPublisher{Err: errors.New("broker down")}
	s := New(backends["file"](t), remote.NewMemoryStore(), StaticIdentity("driver-1"), WithPublisher(publisher))
	completeApplication(t, ctx, s)

	res, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.ErrorContains(t, res.PublishErr, "broker down")
	assert.True(t, res.Record.IsCompleted)
}
