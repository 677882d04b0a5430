package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/upload"
)

// UploadUpdate is one JSON line emitted for automation.
type UploadUpdate struct {
	Timestamp        string `json:"timestamp"`
	Event            string `json:"event"`
	TaskID           string `json:"task_id"`
	Target           string `json:"target,omitempty"`
	Attempt          int    `json:"attempt,omitempty"`
	BytesTransferred int64  `json:"bytes_transferred"`
	TotalBytes       int64  `json:"total_bytes,omitempty"`
	ProgressPct      int    `json:"progress_pct"`
	RetryInMs        int64  `json:"retry_in_ms,omitempty"`
	URL              string `json:"url,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Reporter defines the interface for progress reporting.
type Reporter interface {
	// Report emits an update (may be throttled)
	Report(update UploadUpdate)
	// ReportImmediate emits an update immediately, bypassing throttling
	ReportImmediate(update UploadUpdate)
	// Close cleans up any resources
	Close()
}

// JSONReporter outputs JSON progress updates to a writer (typically stderr).
type JSONReporter struct {
	writer     io.Writer
	target     string
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool
}

// NewJSONReporter creates a new JSON progress reporter.
// interval specifies the minimum time between progress updates.
func NewJSONReporter(writer io.Writer, target string, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		target:   target,
		interval: interval,
	}
}

// Report emits a JSON update, throttled by the configured interval.
func (r *JSONReporter) Report(update UploadUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	now := time.Now()
	if r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.lastReport = now
	r.writeLocked(update, now)
}

// ReportImmediate emits an update immediately, bypassing throttling.
// Used for retries and terminal events.
func (r *JSONReporter) ReportImmediate(update UploadUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := time.Now()
	r.writeLocked(update, now)
	r.lastReport = now
}

func (r *JSONReporter) writeLocked(update UploadUpdate, now time.Time) {
	if update.Timestamp == "" {
		update.Timestamp = now.UTC().Format(time.RFC3339)
	}
	if update.Target == "" {
		update.Target = r.target
	}

	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// Handle converts an upload event into an update. Progress events are
// throttled, all others are written at once.
func (r *JSONReporter) Handle(ev upload.Event) {
	update := FromEvent(ev)
	if ev.Kind == upload.EventProgress && ev.Percent < 100 {
		r.Report(update)
		return
	}
	r.ReportImmediate(update)
}

// Close marks the reporter as closed.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// FromEvent maps an upload event onto its JSON form.
func FromEvent(ev upload.Event) UploadUpdate {
	u := UploadUpdate{
		Event:            ev.Kind.String(),
		TaskID:           ev.TaskID,
		Attempt:          ev.Attempt,
		BytesTransferred: ev.BytesTransferred,
		TotalBytes:       ev.TotalBytes,
		ProgressPct:      ev.Percent,
		URL:              ev.URL,
	}
	if ev.Kind == upload.EventRetry {
		u.RetryInMs = ev.Delay.Milliseconds()
	}
	if ev.Kind == upload.EventCompleted {
		u.ProgressPct = 100
	}
	if ev.Err != nil {
		u.Error = ev.Err.Error()
	}
	return u
}

// NullReporter is a no-op reporter for when progress reporting is disabled.
type NullReporter struct{}

// Report does nothing.
func (r *NullReporter) Report(update UploadUpdate) {}

// ReportImmediate does nothing.
func (r *NullReporter) ReportImmediate(update UploadUpdate) {}

// Handle does nothing.
func (r *NullReporter) Handle(ev upload.Event) {}

// Close does nothing.
func (r *NullReporter) Close() {}
