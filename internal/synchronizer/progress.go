package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/remote"
)

// GetProgress returns the driver's record. A local record with a step wins.
// Otherwise the remote copy is fetched and re-seeded into the local store.
// It returns nil, nil when neither store has a record, and a
// *onboarding.RemoteError when the local store is empty and the remote read
// fails.
func (s *Synchronizer) GetProgress(ctx context.Context, userID string) (rec *onboarding.ProgressRecord, err error) {
	ctx, span := s.startSpan(ctx, "GetProgress", userID)
	defer func() { endSpan(span, err) }()

	rec, err = s.local.Read(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading local progress: %w", err)
	}
	if rec != nil && rec.CurrentStep > 0 {
		return rec, nil
	}

	doc, err := s.remote.Get(ctx, s.progressCollection, userID)
	if err != nil {
		s.metrics.RemoteFailure("get")
		return nil, &onboarding.RemoteError{Op: "get", Err: err}
	}
	if doc == nil {
		return nil, nil
	}

	rec, err = onboarding.RecordFromFields(userID, doc.Data)
	if err != nil {
		return nil, &onboarding.RemoteError{Op: "decode", Err: err}
	}
	rec.SyncStatus = onboarding.SyncSynced

	// Re-seed so the next read is served locally
	if werr := s.local.Write(ctx, userID, onboarding.PatchFromRecord(rec)); werr != nil {
		s.metrics.LocalWrite(werr)
		logging.Warn("Re-seeding local progress for %s failed: %v", userID, werr)
	} else {
		s.metrics.LocalWrite(nil)
		logging.Debug("Re-seeded local progress for %s from remote (step %d)", userID, rec.CurrentStep)
	}
	return rec, nil
}

// current loads the signed-in driver's record for a read-modify-write. When
// the remote store is unreachable the save proceeds from an empty record. Any
// other remote failure, such as a document that does not decode, aborts the
// save: pushing a record built from nothing would overwrite the remote copy.
func (s *Synchronizer) current(ctx context.Context, userID string) (*onboarding.ProgressRecord, error) {
	rec, err := s.GetProgress(ctx, userID)
	if err == nil {
		return rec, nil
	}
	var remoteErr *onboarding.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Op == "get" && remoteOutage(err) {
		logging.Warn("Remote progress unavailable for %s, saving from local state: %v", userID, err)
		return nil, nil
	}
	return nil, err
}

func remoteOutage(err error) bool {
	return errors.Is(err, remote.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Synchronizer) stepTotal(rec *onboarding.ProgressRecord) int {
	if rec != nil && rec.TotalSteps > 0 {
		return rec.TotalSteps
	}
	return s.totalSteps
}

// SaveStepDataAndAdvance merges stepData into the section owned by dataStep,
// marks dataStep completed and moves the driver to nextStep. Only a local
// write failure is returned as an error; replication failures are reported in
// SaveResult.RemoteErr.
func (s *Synchronizer) SaveStepDataAndAdvance(ctx context.Context, dataStep int, stepData any, nextStep int) (res *SaveResult, err error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "SaveStepDataAndAdvance", userID)
	defer func() { endSpan(span, err) }()

	rec, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := s.stepTotal(rec)
	if !onboarding.ValidStep(dataStep, total) {
		return nil, fmt.Errorf("%w: data step %d of %d", onboarding.ErrStepOutOfRange, dataStep, total)
	}
	if !onboarding.ValidStep(nextStep, total) {
		return nil, fmt.Errorf("%w: step %d of %d", onboarding.ErrStepOutOfRange, nextStep, total)
	}

	now := s.now().UTC()
	var (
		sections  onboarding.Sections
		completed []int
		times     = map[int]time.Time{}
	)
	if rec != nil {
		sections = rec.Sections.Clone()
		completed = rec.CompletedSteps
		for k, v := range rec.StepCompletionTimes {
			times[k] = v
		}
	}

	key := onboarding.SectionKeyFor(dataStep)
	if err := onboarding.MergeSection(&sections, key, stepData); err != nil {
		return nil, err
	}
	if _, ok := times[dataStep]; !ok {
		times[dataStep] = now
	}

	patch := onboarding.Patch{
		CurrentStep:         &nextStep,
		CompletedSteps:      onboarding.AddCompleted(completed, dataStep),
		StepCompletionTimes: times,
		LastSavedAt:         &now,
		SyncStatus:          onboarding.Ptr(onboarding.SyncPending),
	}
	if rec == nil {
		patch.TotalSteps = &total
	}
	if sections.Has(key) {
		patch.Sections = sections.Only(key)
	}
	return s.commit(ctx, userID, patch)
}

// UpdateCurrentStep records that the driver arrived at step without touching
// any section data.
func (s *Synchronizer) UpdateCurrentStep(ctx context.Context, step int) (res *SaveResult, err error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "UpdateCurrentStep", userID)
	defer func() { endSpan(span, err) }()

	rec, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := s.stepTotal(rec)
	if !onboarding.ValidStep(step, total) {
		return nil, fmt.Errorf("%w: step %d of %d", onboarding.ErrStepOutOfRange, step, total)
	}

	now := s.now().UTC()
	patch := onboarding.Patch{
		CurrentStep: &step,
		LastSavedAt: &now,
		SyncStatus:  onboarding.Ptr(onboarding.SyncPending),
	}
	if rec == nil {
		patch.TotalSteps = &total
	}
	return s.commit(ctx, userID, patch)
}

// SeedStepDefaults writes defaults into step's section when the section has
// not been started. Arriving at a step twice never overwrites entered data.
func (s *Synchronizer) SeedStepDefaults(ctx context.Context, step int, defaults any) (seeded bool, err error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return false, err
	}
	ctx, span := s.startSpan(ctx, "SeedStepDefaults", userID)
	defer func() { endSpan(span, err) }()

	rec, err := s.current(ctx, userID)
	if err != nil {
		return false, err
	}
	total := s.stepTotal(rec)
	if !onboarding.ValidStep(step, total) {
		return false, fmt.Errorf("%w: step %d of %d", onboarding.ErrStepOutOfRange, step, total)
	}

	key := onboarding.SectionKeyFor(step)
	if rec != nil && !sectionEmpty(&rec.Sections, key) {
		return false, nil
	}

	var sections onboarding.Sections
	if err := onboarding.MergeSection(&sections, key, defaults); err != nil {
		return false, err
	}
	if sectionEmpty(&sections, key) {
		return false, nil
	}

	now := s.now().UTC()
	patch := onboarding.Patch{
		Sections:    sections.Only(key),
		LastSavedAt: &now,
		SyncStatus:  onboarding.Ptr(onboarding.SyncPending),
	}
	if rec == nil {
		patch.TotalSteps = &total
	}
	res, err := s.commit(ctx, userID, patch)
	if err != nil {
		return false, err
	}
	if res.RemoteErr != nil {
		logging.Debug("Seeded %s defaults for %s locally only: %v", key, userID, res.RemoteErr)
	}
	return true, nil
}

func sectionEmpty(s *onboarding.Sections, key onboarding.SectionKey) bool {
	blob, err := s.MarshalSection(key)
	return err == nil && (blob == nil || string(blob) == "{}")
}

// AttachUpload stores a finished upload in its document or photo slot
// without advancing the flow.
func (s *Synchronizer) AttachUpload(ctx context.Context, key onboarding.FileKey, file onboarding.FileRef) (res *SaveResult, err error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "AttachUpload", userID)
	defer func() { endSpan(span, err) }()

	if err := key.Validate(); err != nil {
		return nil, err
	}
	if file.UploadURL == "" {
		return nil, fmt.Errorf("%w: %s has no upload url", onboarding.ErrInvalidSection, key)
	}
	if file.UploadStatus == "" {
		file.UploadStatus = checkpoint.SlotCompleted
	}
	file.UploadProgress = 100

	rec, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	var sections onboarding.Sections
	if rec != nil {
		sections = rec.Sections.Clone()
	}
	if err := onboarding.MergeSection(&sections, key.Section, map[string]any{key.Slot: file}); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	patch := onboarding.Patch{
		Sections:    sections.Only(key.Section),
		LastSavedAt: &now,
		SyncStatus:  onboarding.Ptr(onboarding.SyncPending),
	}
	if rec == nil {
		patch.TotalSteps = onboarding.Ptr(s.totalSteps)
	}
	return s.commit(ctx, userID, patch)
}

// TrackUpload records the local bookkeeping for one file slot.
func (s *Synchronizer) TrackUpload(ctx context.Context, slot checkpoint.FileSlot) error {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	if err := slot.Key.Validate(); err != nil {
		return err
	}
	slot.UserID = userID
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = s.now().UTC()
	}
	if err := s.local.SaveFileSlot(ctx, slot); err != nil {
		return &onboarding.LocalWriteError{UserID: userID, Err: err}
	}
	return nil
}

// FileSlots lists the signed-in driver's file slot bookkeeping.
func (s *Synchronizer) FileSlots(ctx context.Context) ([]checkpoint.FileSlot, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.local.ListFileSlots(ctx, userID)
}

// ClearProgress deletes the driver's record. The local delete is
// authoritative; the remote delete is best effort and reported in the result.
func (s *Synchronizer) ClearProgress(ctx context.Context, userID string) (res *ClearResult, err error) {
	ctx, span := s.startSpan(ctx, "ClearProgress", userID)
	defer func() { endSpan(span, err) }()

	if err := s.local.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("clearing local progress: %w", err)
	}

	res = &ClearResult{}
	if err := s.remote.Delete(ctx, s.progressCollection, userID); err != nil {
		s.metrics.RemoteFailure("delete")
		res.RemoteErr = &onboarding.RemoteError{Op: "delete", Err: err}
		logging.Warn("Remote progress for %s was not deleted: %v", userID, err)
	}
	return res, nil
}

// commit writes patch locally, then replicates the resulting record.
func (s *Synchronizer) commit(ctx context.Context, userID string, patch onboarding.Patch) (*SaveResult, error) {
	if err := s.local.Write(ctx, userID, patch); err != nil {
		s.metrics.LocalWrite(err)
		if errors.Is(err, onboarding.ErrStepOutOfRange) || errors.Is(err, onboarding.ErrEmptyPatch) {
			return nil, err
		}
		return nil, &onboarding.LocalWriteError{UserID: userID, Err: err}
	}
	s.metrics.LocalWrite(nil)

	rec, err := s.local.Read(ctx, userID)
	if err != nil {
		return nil, &onboarding.LocalWriteError{UserID: userID, Err: fmt.Errorf("reading back: %w", err)}
	}
	if rec == nil {
		return nil, &onboarding.LocalWriteError{UserID: userID, Err: errors.New("record missing after write")}
	}

	res := &SaveResult{Record: rec}
	if err := s.push(ctx, rec); err != nil {
		var remoteErr *onboarding.RemoteError
		if errors.As(err, &remoteErr) {
			res.RemoteErr = err
			logging.Warn("Progress for %s saved locally, remote sync pending: %v", userID, err)
		} else {
			logging.Warn("Progress for %s replicated but still marked pending: %v", userID, err)
		}
		return res, nil
	}
	res.Synced = true
	res.Record.SyncStatus = onboarding.SyncSynced
	return res, nil
}

// push replicates rec to the remote store and marks it synced locally. A
// local save made while the push was in flight stays pending. A remote
// failure is returned as *onboarding.RemoteError.
func (s *Synchronizer) push(ctx context.Context, rec *onboarding.ProgressRecord) error {
	fields, err := rec.Fields()
	if err != nil {
		return &onboarding.RemoteError{Op: "encode", Err: err}
	}
	fields["syncStatus"] = string(onboarding.SyncSynced)

	if err := s.remote.Set(ctx, s.progressCollection, rec.UserID, fields); err != nil {
		s.metrics.RemoteFailure("set")
		return &onboarding.RemoteError{Op: "set", Err: err}
	}
	if err := s.local.MarkSynced(ctx, rec.UserID, rec.LastSavedAt); err != nil {
		return fmt.Errorf("marking %s synced: %w", rec.UserID, err)
	}
	return nil
}
