package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/upload"
)

// Tracker renders one upload's event stream as a byte progress bar.
type Tracker struct {
	writer    io.Writer
	label     string
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time

	mu       sync.Mutex
	attempt  int
	finished bool
	url      string
	err      error
}

// New creates a tracker that draws to stderr.
func New(label string) *Tracker {
	return NewWithWriter(os.Stderr, label)
}

// NewWithWriter creates a tracker that draws to w.
func NewWithWriter(w io.Writer, label string) *Tracker {
	return &Tracker{
		writer:    w,
		label:     label,
		startTime: time.Now(),
		attempt:   1,
	}
}

// SetTotal sets the number of bytes to transfer and (re)creates the bar.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setTotalLocked(total)
}

func (t *Tracker) setTotalLocked(total int64) {
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(t.writer),
		progressbar.OptionSetDescription(t.describe()),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (t *Tracker) describe() string {
	if t.attempt > 1 {
		return fmt.Sprintf("Uploading %s (attempt %d)", t.label, t.attempt)
	}
	return fmt.Sprintf("Uploading %s", t.label)
}

// Handle applies one upload event to the bar.
func (t *Tracker) Handle(ev upload.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}

	switch ev.Kind {
	case upload.EventProgress:
		if t.bar == nil || ev.TotalBytes != t.total {
			t.setTotalLocked(ev.TotalBytes)
		}
		t.current.Store(ev.BytesTransferred)
		_ = t.bar.Set64(ev.BytesTransferred)
	case upload.EventRetry:
		t.attempt = ev.Attempt
		if t.bar != nil {
			t.bar.Describe(fmt.Sprintf("Retrying %s (attempt %d) in %s", t.label, ev.Attempt, ev.Delay.Round(time.Millisecond)))
		}
		logging.Warn("Upload of %s failed, retrying in %s: %v", t.label, ev.Delay, ev.Err)
	case upload.EventCompleted:
		t.finished = true
		t.url = ev.URL
		if t.bar != nil {
			_ = t.bar.Finish()
		}
	case upload.EventFailed, upload.EventCancelled:
		t.finished = true
		t.err = ev.Err
		if t.bar != nil {
			_ = t.bar.Exit()
		}
	}
}

// Current returns the bytes transferred so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Close logs a summary line once the stream has ended.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime)
	fmt.Fprintln(t.writer)
	switch {
	case t.err != nil:
		logging.Error("Upload of %s ended: %v", t.label, t.err)
	case t.url != "":
		bytesPerSec := float64(t.current.Load()) / elapsed.Seconds()
		logging.Info("Upload complete: %s, %d bytes in %s (%.0f bytes/sec)",
			t.label, t.current.Load(), elapsed.Round(time.Millisecond), bytesPerSec)
	}
}

// Follow drains events into each handler and closes them when the stream ends.
// It returns the terminal event, or a zero Event if the channel closed early.
func Follow(events <-chan upload.Event, handlers ...Handler) upload.Event {
	var last upload.Event
	for ev := range events {
		for _, h := range handlers {
			h.Handle(ev)
		}
		if ev.Terminal() {
			last = ev
		}
	}
	for _, h := range handlers {
		h.Close()
	}
	return last
}

// Handler consumes upload events.
type Handler interface {
	Handle(ev upload.Event)
	Close()
}
