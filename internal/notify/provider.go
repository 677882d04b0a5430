package notify

import "time"

// Provider defines the notification contract for onboarding ops events.
// Implementations must treat a disabled configuration as a no-op.
type Provider interface {
	// SubmissionReceived sends notification when a driver submits for review.
	SubmissionReceived(userID string, submittedAt time.Time, documents, photos int) error

	// SyncSweepFailed sends notification when a pending-data sweep leaves records unsynced.
	SyncSweepFailed(attempted, failed int, failures []string) error

	// UploadFailed sends notification for an upload that ended in a terminal failure.
	UploadFailed(taskID, target string, attempts int, err error) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
