// Package review hands submitted applications to the back-office review
// pipeline.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// DefaultTopic receives one message per submission, keyed by driver id.
const DefaultTopic = "onboarding.submissions"

// Submission is the review event payload.
type Submission struct {
	UserID               string            `json:"userId"`
	SubmittedAt          time.Time         `json:"submittedAt"`
	Progress             int               `json:"progress"`
	CompletedSteps       []int             `json:"completedSteps"`
	FirstName            string            `json:"firstName,omitempty"`
	LastName             string            `json:"lastName,omitempty"`
	Email                string            `json:"email,omitempty"`
	LicensePlate         string            `json:"licensePlate,omitempty"`
	Documents            map[string]string `json:"documents"`
	Photos               map[string]string `json:"photos"`
	EstimatedReviewHours int               `json:"estimatedReviewTime"`
}

// NewSubmission builds the event for a completed record.
func NewSubmission(rec *onboarding.ProgressRecord, submittedAt time.Time) Submission {
	sub := Submission{
		UserID:               rec.UserID,
		SubmittedAt:          submittedAt.UTC(),
		Progress:             rec.Progress,
		CompletedSteps:       rec.CompletedSteps,
		Documents:            map[string]string{},
		Photos:               map[string]string{},
		EstimatedReviewHours: onboarding.DefaultReviewHours,
	}
	if p := rec.Sections.Personal; p != nil {
		sub.FirstName, sub.LastName, sub.Email = p.FirstName, p.LastName, p.Email
	}
	if v := rec.Sections.Vehicle; v != nil {
		sub.LicensePlate = v.LicensePlate
	}
	if d := rec.Sections.Documents; d != nil {
		for _, slot := range onboarding.DocumentSlots {
			if f := d.Slot(slot); f.Uploaded() {
				sub.Documents[slot] = f.UploadURL
			}
		}
	}
	if ph := rec.Sections.Photos; ph != nil {
		for _, slot := range onboarding.PhotoSlots {
			if f := ph.Slot(slot); f.Uploaded() {
				sub.Photos[slot] = f.UploadURL
			}
		}
	}
	return sub
}

// Encode returns the wire form of the event.
func (s Submission) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding submission for %s: %w", s.UserID, err)
	}
	return data, nil
}

// Publisher delivers submissions to reviewers.
type Publisher interface {
	PublishSubmission(ctx context.Context, sub Submission) error
	Close() error
}

// NopPublisher drops every submission. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishSubmission(ctx context.Context, sub Submission) error { return nil }
func (NopPublisher) Close() error                                              { return nil }

// MemoryPublisher keeps submissions in memory.
type MemoryPublisher struct {
	mu   sync.Mutex
	subs []Submission
	Err  error
}

func (p *MemoryPublisher) PublishSubmission(ctx context.Context, sub Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.subs = append(p.subs, sub)
	return nil
}

// Submissions returns a copy of what was published.
func (p *MemoryPublisher) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Submission(nil), p.subs...)
}

func (p *MemoryPublisher) Close() error { return nil }
