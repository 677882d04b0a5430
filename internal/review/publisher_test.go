package review

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubmission(t *testing.T) {
	rec := &onboarding.ProgressRecord{
		UserID:         "driver-7",
		Progress:       63,
		CompletedSteps: []int{1, 2, 3, 4, 5},
		Sections: onboarding.Sections{
			Personal: &onboarding.PersonalSection{FirstName: "Ana", LastName: "Silva", Email: "ana@example.com"},
			Vehicle:  &onboarding.VehicleSection{LicensePlate: "ABC1D23"},
			Documents: &onboarding.DocumentsSection{
				DriverLicense:  &onboarding.FileRef{UploadURL: "https://cdn/cnh.jpg"},
				NationalIDBack: &onboarding.FileRef{URI: "file:///local-only.jpg"},
			},
			Photos: &onboarding.PhotosSection{Front: &onboarding.FileRef{UploadURL: "https://cdn/front.jpg"}},
		},
	}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	sub := NewSubmission(rec, at)
	assert.Equal(t, "driver-7", sub.UserID)
	assert.Equal(t, "Ana", sub.FirstName)
	assert.Equal(t, "ABC1D23", sub.LicensePlate)
	assert.Equal(t, map[string]string{"driverLicense": "https://cdn/cnh.jpg"}, sub.Documents)
	assert.Equal(t, map[string]string{"front": "https://cdn/front.jpg"}, sub.Photos)
	assert.Equal(t, onboarding.DefaultReviewHours, sub.EstimatedReviewHours)

	raw, err := sub.Encode()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2026-05-01T12:00:00Z", decoded["submittedAt"])
	assert.EqualValues(t, 24, decoded["estimatedReviewTime"])
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	require.NoError(t, p.PublishSubmission(context.Background(), Submission{UserID: "a"}))
	subs := p.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "a", subs[0].UserID)
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(context.Background(), nil, "")
	assert.Error(t, err)
}
