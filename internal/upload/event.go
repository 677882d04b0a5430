package upload

import (
	"fmt"
	"time"
)

// EventKind identifies an Event variant.
type EventKind int

const (
	EventProgress EventKind = iota
	EventRetry
	EventCompleted
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventRetry:
		return "retry"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one item on a task's stream. Fields are set according to Kind:
// progress carries byte counts and Percent, retry carries the next Attempt,
// Delay and the failed attempt's Err, completed carries URL, and failed or
// cancelled carry the terminal Err.
type Event struct {
	Kind             EventKind
	TaskID           string
	Attempt          int
	BytesTransferred int64
	TotalBytes       int64
	Percent          int
	Delay            time.Duration
	URL              string
	Err              error
}

// Terminal reports whether ev ends the stream.
func (ev Event) Terminal() bool {
	return ev.Kind == EventCompleted || ev.Kind == EventFailed || ev.Kind == EventCancelled
}

// Snapshot is a point-in-time view of a task.
type Snapshot struct {
	ID        string
	Target    string
	State     State
	Attempt   int
	Percent   int
	Offset    int64
	Total     int64
	URL       string
	Err       string
	UpdatedAt time.Time
}
