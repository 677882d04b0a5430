package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/synchronizer"
)

// parseStepData decodes --data. A leading @ reads the JSON from a file.
// An empty value is an empty object.
func parseStepData(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	blob := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		var err error
		blob, err = os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, err
		}
	}
	var data map[string]any
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("%w: step data must be a JSON object: %v", onboarding.ErrInvalidSection, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// emit prints v as indented JSON when --output-json is set, otherwise runs human.
func emit(c *cli.Context, v any, human func()) error {
	if !c.Bool("output-json") {
		human()
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// saveOutput is the JSON form of a save.
type saveOutput struct {
	Record      *onboarding.ProgressRecord `json:"record"`
	Synced      bool                       `json:"synced"`
	RemoteError string                     `json:"remote_error,omitempty"`
}

// reportSave prints a save result. A remote failure is a warning, not an
// error: the record is durable locally and stays pending.
func reportSave(c *cli.Context, res *synchronizer.SaveResult) error {
	if res.RemoteErr != nil {
		logging.Warn("Saved locally, remote sync pending: %v", res.RemoteErr)
	}
	out := saveOutput{Record: res.Record, Synced: res.Synced, RemoteError: errString(res.RemoteErr)}
	return emit(c, out, func() {
		rec := res.Record
		state := "synced"
		if !res.Synced {
			state = "pending sync"
		}
		fmt.Printf("Step %d of %d (%s), %d%% complete, %s\n",
			rec.CurrentStep, rec.TotalSteps, onboarding.StepName(rec.CurrentStep), rec.Progress, state)
	})
}

func printRecord(rec *onboarding.ProgressRecord) {
	if rec == nil {
		fmt.Println("No saved progress")
		return
	}
	fmt.Printf("Driver:        %s\n", rec.UserID)
	fmt.Printf("Current step:  %d of %d (%s)\n", rec.CurrentStep, rec.TotalSteps, onboarding.StepName(rec.CurrentStep))
	fmt.Printf("Progress:      %d%%\n", rec.Progress)
	fmt.Printf("Completed:     %s\n", joinInts(rec.CompletedSteps))
	fmt.Printf("Sync status:   %s\n", rec.SyncStatus)
	fmt.Printf("Last saved:    %s\n", formatTime(rec.LastSavedAt))
	if rec.SubmittedAt != nil {
		fmt.Printf("Submitted:     %s\n", formatTime(*rec.SubmittedAt))
	}

	var sections []string
	for _, key := range onboarding.SectionKeys {
		if rec.Sections.Has(key) {
			sections = append(sections, string(key))
		}
	}
	sort.Strings(sections)
	if len(sections) > 0 {
		fmt.Printf("Sections:      %s\n", strings.Join(sections, ", "))
	}
}

func printStatus(st *onboarding.OnboardingStatus) {
	fmt.Printf("Review status: %s\n", st.Status)
	if st.SubmittedAt != nil {
		fmt.Printf("Submitted:     %s\n", formatTime(*st.SubmittedAt))
	}
	if st.ReviewedAt != nil {
		fmt.Printf("Reviewed:      %s\n", formatTime(*st.ReviewedAt))
	}
	if st.RejectionReason != "" {
		fmt.Printf("Reason:        %s\n", st.RejectionReason)
	}
	for _, change := range st.RequiredChanges {
		fmt.Printf("  - %s\n", change)
	}
	if st.Status == onboarding.ReviewSubmitted || st.Status == onboarding.ReviewUnderReview {
		fmt.Printf("Estimated:     %dh\n", st.EstimatedReviewHours)
	}
}

func joinInts(xs []int) string {
	if len(xs) == 0 {
		return "none"
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
