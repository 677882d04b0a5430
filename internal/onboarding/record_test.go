package onboarding

import (
	"errors"
	"slices"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestProgressFor(t *testing.T) {
	tests := []struct {
		step, total, want int
	}{
		{1, 8, 13},
		{2, 8, 25},
		{3, 8, 38},
		{4, 8, 50},
		{5, 8, 63},
		{8, 8, 100},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := ProgressFor(tt.step, tt.total); got != tt.want {
			t.Errorf("ProgressFor(%d, %d) = %d, want %d", tt.step, tt.total, got, tt.want)
		}
	}
}

func TestSectionKeyFor(t *testing.T) {
	tests := map[int]SectionKey{
		1: SectionPersonal,
		2: SectionVehicle,
		3: SectionDocuments,
		4: SectionPhotos,
		5: SectionMisc,
		8: SectionMisc,
		0: SectionMisc,
	}
	for step, want := range tests {
		if got := SectionKeyFor(step); got != want {
			t.Errorf("SectionKeyFor(%d) = %s, want %s", step, got, want)
		}
	}
}

func TestAddCompleted(t *testing.T) {
	got := AddCompleted([]int{3, 1}, 1)
	if !slices.Equal(got, []int{1, 3}) {
		t.Errorf("AddCompleted dedup = %v", got)
	}
	got = AddCompleted(got, 2)
	if !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("AddCompleted insert = %v", got)
	}
}

func TestPatchApply_PreservesAbsentFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewRecord("u1", now)
	rec.Sections.Vehicle = &VehicleSection{Make: "Toyota"}
	rec.CompletedSteps = []int{1}

	step := 3
	p := Patch{
		CurrentStep: &step,
		Sections:    &Sections{Personal: &PersonalSection{FirstName: "Ana"}},
	}
	later := now.Add(time.Minute)
	p.Apply(rec, later)

	if rec.CurrentStep != 3 || rec.Progress != 38 {
		t.Errorf("step/progress = %d/%d, want 3/38", rec.CurrentStep, rec.Progress)
	}
	if rec.Sections.Vehicle == nil || rec.Sections.Vehicle.Make != "Toyota" {
		t.Errorf("vehicle section lost: %+v", rec.Sections.Vehicle)
	}
	if rec.Sections.Personal == nil || rec.Sections.Personal.FirstName != "Ana" {
		t.Errorf("personal section not applied: %+v", rec.Sections.Personal)
	}
	if !slices.Equal(rec.CompletedSteps, []int{1}) {
		t.Errorf("completed steps changed: %v", rec.CompletedSteps)
	}
	if !rec.LastSavedAt.Equal(later) {
		t.Errorf("LastSavedAt = %v, want %v", rec.LastSavedAt, later)
	}
}

func TestPatchValidate(t *testing.T) {
	zero, nine, two := 0, 9, 2
	tests := []struct {
		name  string
		patch Patch
		want  error
	}{
		{"empty", Patch{}, ErrEmptyPatch},
		{"step zero", Patch{CurrentStep: &zero}, ErrStepOutOfRange},
		{"step above total", Patch{CurrentStep: &nine}, ErrStepOutOfRange},
		{"valid", Patch{CurrentStep: &two}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate(DefaultTotalSteps)
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewRecord("u1", now)
	rec.CurrentStep = 2
	rec.CompletedSteps = []int{1}
	rec.StepValidation = map[int]bool{1: true}
	rec.Sections.Personal = &PersonalSection{FirstName: "Ana"}

	fields, err := rec.Fields()
	if err != nil {
		t.Fatalf("Fields() error: %v", err)
	}
	sections, ok := fields["sections"].(map[string]any)
	if !ok {
		t.Fatalf("sections not encoded as object: %T", fields["sections"])
	}
	if _, ok := sections["vehicle"]; ok {
		t.Error("unstarted vehicle section should be omitted")
	}

	back, err := RecordFromFields("u1", fields)
	if err != nil {
		t.Fatalf("RecordFromFields() error: %v", err)
	}
	if back.Progress != 25 || back.Sections.Personal.FirstName != "Ana" || !back.StepValidation[1] {
		t.Errorf("decoded record mismatch: %+v", back)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrNotAuthenticated, KindAuth},
		{&LocalWriteError{UserID: "u", Err: errors.New("disk full")}, KindLocal},
		{&RemoteError{Op: "set", Err: errors.New("down")}, KindRemote},
		{&UploadError{Code: CodeQuotaExceeded, Attempts: 1, Err: errors.New("quota")}, KindUpload},
		{ErrCancelled, KindCancelled},
		{ErrValidationIncomplete, KindValidation},
		{errors.New("other"), KindOther},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUploadCodeRetryable(t *testing.T) {
	retryable := []UploadCode{CodeRetryLimitExceeded, CodeUnknown, CodeCanceled, CodeUnavailable}
	fatal := []UploadCode{CodeUnauthorized, CodeUnauthenticated, CodeQuotaExceeded, CodeInvalidArgument, CodeObjectNotFound, CodeInvalidChecksum}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("%s should be retryable", c)
		}
	}
	for _, c := range fatal {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}
