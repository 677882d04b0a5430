// Package onboarding defines the driver onboarding progress record, the
// section variants it carries and the error taxonomy shared by the stores,
// the synchronizer and the upload manager.
package onboarding

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// SyncStatus is the advisory replication state of a record.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncError   SyncStatus = "error"
	SyncOffline SyncStatus = "offline"
)

// ParseSyncStatus validates a stored sync status.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch SyncStatus(s) {
	case SyncSynced, SyncPending, SyncError, SyncOffline:
		return SyncStatus(s), nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// ProgressRecord is one driver's onboarding state. It is keyed by UserID in
// both the local and the remote store.
type ProgressRecord struct {
	UserID              string            `json:"userId"`
	CurrentStep         int               `json:"currentStep"`
	TotalSteps          int               `json:"totalSteps"`
	CompletedSteps      []int             `json:"completedSteps"`
	Progress            int               `json:"progress"`
	Sections            Sections          `json:"sections"`
	LastSavedAt         time.Time         `json:"lastSavedAt"`
	SyncStatus          SyncStatus        `json:"syncStatus"`
	StepValidation      map[int]bool      `json:"stepValidation,omitempty"`
	StepCompletionTimes map[int]time.Time `json:"stepCompletionTimes,omitempty"`
	IsCompleted         bool              `json:"isCompleted"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	SubmittedAt         *time.Time        `json:"submittedAt,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

// NewRecord returns the defaults a record gets on first write.
func NewRecord(userID string, now time.Time) *ProgressRecord {
	return &ProgressRecord{
		UserID:      userID,
		CurrentStep: 1,
		TotalSteps:  DefaultTotalSteps,
		Progress:    0,
		SyncStatus:  SyncPending,
		CreatedAt:   now,
		LastSavedAt: now,
	}
}

// Clone returns a deep copy of r.
func (r *ProgressRecord) Clone() *ProgressRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.CompletedSteps = slices.Clone(r.CompletedSteps)
	out.Sections = r.Sections.Clone()
	if r.StepValidation != nil {
		out.StepValidation = make(map[int]bool, len(r.StepValidation))
		for k, v := range r.StepValidation {
			out.StepValidation[k] = v
		}
	}
	if r.StepCompletionTimes != nil {
		out.StepCompletionTimes = make(map[int]time.Time, len(r.StepCompletionTimes))
		for k, v := range r.StepCompletionTimes {
			out.StepCompletionTimes[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		out.SubmittedAt = &t
	}
	return &out
}

// HasCompleted reports whether step is in CompletedSteps.
func (r *ProgressRecord) HasCompleted(step int) bool {
	return slices.Contains(r.CompletedSteps, step)
}

// AddCompleted returns steps with step added, deduplicated and sorted.
func AddCompleted(steps []int, step int) []int {
	out := slices.Clone(steps)
	if !slices.Contains(out, step) {
		out = append(out, step)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Fields encodes the record as a document for the remote store.
func (r *ProgressRecord) Fields() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding record fields: %w", err)
	}
	return fields, nil
}

// RecordFromFields decodes a remote document. Missing totals fall back to the
// first-write defaults and Progress is recomputed from CurrentStep.
func RecordFromFields(userID string, fields map[string]any) (*ProgressRecord, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	rec := &ProgressRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	rec.UserID = userID
	if rec.TotalSteps <= 0 {
		rec.TotalSteps = DefaultTotalSteps
	}
	if rec.CurrentStep <= 0 {
		rec.CurrentStep = 1
	}
	rec.Progress = ProgressFor(rec.CurrentStep, rec.TotalSteps)
	if rec.SyncStatus == "" {
		rec.SyncStatus = SyncSynced
	}
	return rec, nil
}

// Patch is a partial update. Nil fields are preserved by the store.
type Patch struct {
	CurrentStep         *int
	TotalSteps          *int
	CompletedSteps      []int
	Sections            *Sections
	LastSavedAt         *time.Time
	SyncStatus          *SyncStatus
	StepValidation      map[int]bool
	StepCompletionTimes map[int]time.Time
	IsCompleted         *bool
	CompletedAt         *time.Time
	SubmittedAt         *time.Time
}

// IsEmpty reports whether the patch carries no fields.
func (p *Patch) IsEmpty() bool {
	return p.CurrentStep == nil && p.TotalSteps == nil && p.CompletedSteps == nil &&
		p.Sections == nil && p.LastSavedAt == nil && p.SyncStatus == nil &&
		p.StepValidation == nil && p.StepCompletionTimes == nil &&
		p.IsCompleted == nil && p.CompletedAt == nil && p.SubmittedAt == nil
}

// Validate checks the patch against the resulting total step count.
func (p *Patch) Validate(total int) error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.TotalSteps != nil {
		if *p.TotalSteps <= 0 {
			return fmt.Errorf("%w: total steps %d", ErrStepOutOfRange, *p.TotalSteps)
		}
		total = *p.TotalSteps
	}
	if p.CurrentStep != nil && !ValidStep(*p.CurrentStep, total) {
		return fmt.Errorf("%w: step %d of %d", ErrStepOutOfRange, *p.CurrentStep, total)
	}
	return nil
}

// Apply writes the non-nil patch fields into r and recomputes Progress.
// Within Sections, only started sections overwrite. LastSavedAt defaults to now.
func (p *Patch) Apply(r *ProgressRecord, now time.Time) {
	if p.CurrentStep != nil {
		r.CurrentStep = *p.CurrentStep
	}
	if p.TotalSteps != nil {
		r.TotalSteps = *p.TotalSteps
	}
	if p.CompletedSteps != nil {
		r.CompletedSteps = slices.Clone(p.CompletedSteps)
	}
	if p.Sections != nil {
		src := p.Sections.Clone()
		for _, key := range SectionKeys {
			if !src.Has(key) {
				continue
			}
			switch key {
			case SectionPersonal:
				r.Sections.Personal = src.Personal
			case SectionVehicle:
				r.Sections.Vehicle = src.Vehicle
			case SectionDocuments:
				r.Sections.Documents = src.Documents
			case SectionPhotos:
				r.Sections.Photos = src.Photos
			case SectionMisc:
				r.Sections.Misc = src.Misc
			}
		}
	}
	if p.SyncStatus != nil {
		r.SyncStatus = *p.SyncStatus
	}
	if p.StepValidation != nil {
		r.StepValidation = p.StepValidation
	}
	if p.StepCompletionTimes != nil {
		r.StepCompletionTimes = p.StepCompletionTimes
	}
	if p.IsCompleted != nil {
		r.IsCompleted = *p.IsCompleted
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		r.CompletedAt = &t
	}
	if p.SubmittedAt != nil {
		t := *p.SubmittedAt
		r.SubmittedAt = &t
	}
	if p.LastSavedAt != nil {
		r.LastSavedAt = *p.LastSavedAt
	} else {
		r.LastSavedAt = now
	}
	r.Progress = ProgressFor(r.CurrentStep, r.TotalSteps)
}

// PatchFromRecord returns a patch that reproduces every field of r.
func PatchFromRecord(r *ProgressRecord) Patch {
	c := r.Clone()
	p := Patch{
		CurrentStep:         &c.CurrentStep,
		TotalSteps:          &c.TotalSteps,
		CompletedSteps:      c.CompletedSteps,
		Sections:            &c.Sections,
		LastSavedAt:         &c.LastSavedAt,
		SyncStatus:          &c.SyncStatus,
		StepValidation:      c.StepValidation,
		StepCompletionTimes: c.StepCompletionTimes,
		IsCompleted:         &c.IsCompleted,
		CompletedAt:         c.CompletedAt,
		SubmittedAt:         c.SubmittedAt,
	}
	if p.CompletedSteps == nil {
		p.CompletedSteps = []int{}
	}
	return p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
