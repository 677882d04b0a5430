// Package checkpoint is the on-device store for onboarding progress. It keeps
// one record per driver and is the durable source of truth while the remote
// store is unreachable.
package checkpoint

//go:generate mockgen -source=backend.go -destination=mocks/mocks.go -package=mocks Backend

import (
	"context"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// Backend defines the interface for local progress persistence.
// Implementations include SQLite (default) and a YAML file (headless/CI).
type Backend interface {
	// Write upserts a record. A missing record starts from the first-write
	// defaults; an existing one keeps every field the patch leaves nil.
	Write(ctx context.Context, userID string, patch onboarding.Patch) error
	// Read returns nil, nil when the driver has no record.
	Read(ctx context.Context, userID string) (*onboarding.ProgressRecord, error)
	Delete(ctx context.Context, userID string) error
	ListPending(ctx context.Context) ([]onboarding.ProgressRecord, error)
	// MarkSynced flags the record as replicated if it is still the version
	// saved at savedAt. It is a no-op for missing or newer records.
	MarkSynced(ctx context.Context, userID string, savedAt time.Time) error

	// File slot bookkeeping for document and photo uploads
	SaveFileSlot(ctx context.Context, slot FileSlot) error
	ListFileSlots(ctx context.Context, userID string) ([]FileSlot, error)

	// Lifecycle
	Close() error
}

// FileSlot tracks the local file and upload state behind one document or
// photo field.
type FileSlot struct {
	UserID     string
	Key        onboarding.FileKey
	LocalURI   string
	RemotePath string
	UploadURL  string
	Status     string
	Progress   int
	UpdatedAt  time.Time
}

// Slot statuses.
const (
	SlotPending   = "pending"
	SlotUploading = "uploading"
	SlotCompleted = "completed"
	SlotFailed    = "failed"
)

var (
	_ Backend = (*State)(nil)
	_ Backend = (*FileState)(nil)
)
