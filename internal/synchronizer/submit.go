package synchronizer

import (
	"context"
	"fmt"

	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/remote"
	"github.com/johndauphine/onboard-sync/internal/review"
)

// Submit sends a complete application for review. It writes the review
// status document, marks the record completed, publishes the submission and
// notifies ops. The status write must reach the remote store; publication
// and notification failures are reported but do not fail the submission.
func (s *Synchronizer) Submit(ctx context.Context) (res *SubmitResult, err error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "Submit", userID)
	defer func() { endSpan(span, err) }()

	rec, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := onboarding.CheckComplete(rec); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := map[string]any{
		"userId":              userID,
		"status":              string(onboarding.ReviewSubmitted),
		"submittedAt":         remote.ServerTimestamp,
		"estimatedReviewTime": onboarding.DefaultReviewHours,
	}
	if err := s.remote.Set(ctx, s.statusCollection, userID, status); err != nil {
		s.metrics.RemoteFailure("submit")
		return nil, &onboarding.RemoteError{Op: "submit", Err: err}
	}

	patch := onboarding.Patch{
		IsCompleted: onboarding.Ptr(true),
		CompletedAt: &now,
		SubmittedAt: &now,
		LastSavedAt: &now,
		SyncStatus:  onboarding.Ptr(onboarding.SyncPending),
	}
	if onboarding.ValidStep(onboarding.StepPendingReview, s.stepTotal(rec)) {
		patch.CurrentStep = onboarding.Ptr(onboarding.StepPendingReview)
	}
	saved, err := s.commit(ctx, userID, patch)
	if err != nil {
		return nil, err
	}
	s.metrics.Submitted()

	res = &SubmitResult{SaveResult: *saved}
	res.Status = onboarding.DefaultStatus(userID)
	res.Status.Status = onboarding.ReviewSubmitted
	res.Status.SubmittedAt = &now

	sub := review.NewSubmission(saved.Record, now)
	if err := s.publisher.PublishSubmission(ctx, sub); err != nil {
		res.PublishErr = fmt.Errorf("publishing submission: %w", err)
		logging.Warn("Submission for %s not published: %v", userID, err)
	}
	if s.notifier != nil {
		if err := s.notifier.SubmissionReceived(userID, now, len(sub.Documents), len(sub.Photos)); err != nil {
			logging.Warn("Failed to send submission notification: %v", err)
		}
	}
	logging.Info("Driver %s submitted onboarding for review", userID)
	return res, nil
}

// GetStatus returns the review status, or the draft default when the driver
// has no status document.
func (s *Synchronizer) GetStatus(ctx context.Context, userID string) (st *onboarding.OnboardingStatus, err error) {
	ctx, span := s.startSpan(ctx, "GetStatus", userID)
	defer func() { endSpan(span, err) }()

	doc, err := s.remote.Get(ctx, s.statusCollection, userID)
	if err != nil {
		s.metrics.RemoteFailure("get")
		return nil, &onboarding.RemoteError{Op: "get", Err: err}
	}
	if doc == nil {
		return onboarding.DefaultStatus(userID), nil
	}
	return onboarding.StatusFromFields(userID, doc.Data)
}

// SubscribeStatus calls onChange with the current review status and on every
// change until ctx is done or the returned function is called.
func (s *Synchronizer) SubscribeStatus(ctx context.Context, userID string, onChange func(*onboarding.OnboardingStatus), onError func(error)) (remote.Unsubscribe, error) {
	if onError == nil {
		onError = func(err error) { logging.Warn("Status subscription for %s: %v", userID, err) }
	}
	unsub, err := s.remote.Subscribe(ctx, s.statusCollection, userID,
		func(doc *remote.Document) {
			if doc == nil {
				onChange(onboarding.DefaultStatus(userID))
				return
			}
			st, err := onboarding.StatusFromFields(userID, doc.Data)
			if err != nil {
				onError(err)
				return
			}
			onChange(st)
		},
		func(err error) { onError(&onboarding.RemoteError{Op: "subscribe", Err: err}) },
	)
	if err != nil {
		return nil, &onboarding.RemoteError{Op: "subscribe", Err: err}
	}
	return unsub, nil
}
