package onboarding

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReviewStatus is the back-office state of a submitted application.
type ReviewStatus string

const (
	ReviewDraft           ReviewStatus = "draft"
	ReviewSubmitted       ReviewStatus = "submitted"
	ReviewUnderReview     ReviewStatus = "under_review"
	ReviewApproved        ReviewStatus = "approved"
	ReviewRejected        ReviewStatus = "rejected"
	ReviewRequiresChanges ReviewStatus = "requires_changes"
)

// DefaultReviewHours is the review estimate shown to drivers.
const DefaultReviewHours = 24

// OnboardingStatus is the review document kept next to the progress record.
type OnboardingStatus struct {
	UserID               string       `json:"userId"`
	Status               ReviewStatus `json:"status"`
	SubmittedAt          *time.Time   `json:"submittedAt,omitempty"`
	ReviewedAt           *time.Time   `json:"reviewedAt,omitempty"`
	RejectionReason      string       `json:"rejectionReason,omitempty"`
	RequiredChanges      []string     `json:"requiredChanges,omitempty"`
	EstimatedReviewHours int          `json:"estimatedReviewTime"`
}

// DefaultStatus is returned for drivers without a status document.
func DefaultStatus(userID string) *OnboardingStatus {
	return &OnboardingStatus{
		UserID:               userID,
		Status:               ReviewDraft,
		EstimatedReviewHours: DefaultReviewHours,
	}
}

// StatusFromFields decodes a status document.
func StatusFromFields(userID string, fields map[string]any) (*OnboardingStatus, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding status document: %w", err)
	}
	st := DefaultStatus(userID)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decoding status document: %w", err)
	}
	st.UserID = userID
	if st.Status == "" {
		st.Status = ReviewDraft
	}
	if st.EstimatedReviewHours == 0 {
		st.EstimatedReviewHours = DefaultReviewHours
	}
	return st, nil
}

// CheckComplete returns ErrValidationIncomplete naming the first missing item
// needed to submit the application.
func CheckComplete(r *ProgressRecord) error {
	if r == nil {
		return fmt.Errorf("%w: no saved progress", ErrValidationIncomplete)
	}
	p := r.Sections.Personal
	switch {
	case p == nil || p.FirstName == "":
		return fmt.Errorf("%w: personal.firstName", ErrValidationIncomplete)
	case p.LastName == "":
		return fmt.Errorf("%w: personal.lastName", ErrValidationIncomplete)
	case p.Email == "":
		return fmt.Errorf("%w: personal.email", ErrValidationIncomplete)
	}

	v := r.Sections.Vehicle
	switch {
	case v == nil || v.Make == "":
		return fmt.Errorf("%w: vehicle.make", ErrValidationIncomplete)
	case v.Model == "":
		return fmt.Errorf("%w: vehicle.model", ErrValidationIncomplete)
	case v.LicensePlate == "":
		return fmt.Errorf("%w: vehicle.licensePlate", ErrValidationIncomplete)
	}

	docs := DocumentsSection{}
	if r.Sections.Documents != nil {
		docs = *r.Sections.Documents
	}
	for _, slot := range DocumentSlots {
		if !docs.Slot(slot).Uploaded() {
			return fmt.Errorf("%w: documents.%s", ErrValidationIncomplete, slot)
		}
	}

	photos := PhotosSection{}
	if r.Sections.Photos != nil {
		photos = *r.Sections.Photos
	}
	for _, slot := range PhotoSlots {
		if !photos.Slot(slot).Uploaded() {
			return fmt.Errorf("%w: photos.%s", ErrValidationIncomplete, slot)
		}
	}
	return nil
}

// Slot returns the document stored under its JSON field name.
func (d DocumentsSection) Slot(name string) *FileRef {
	switch name {
	case "nationalIdFront":
		return d.NationalIDFront
	case "nationalIdBack":
		return d.NationalIDBack
	case "driverLicense":
		return d.DriverLicense
	case "vehicleRegistration":
		return d.VehicleRegistration
	}
	return nil
}

// Slot returns the photo stored under its JSON field name.
func (p PhotosSection) Slot(name string) *FileRef {
	switch name {
	case "front":
		return p.Front
	case "back":
		return p.Back
	case "leftSide":
		return p.LeftSide
	case "rightSide":
		return p.RightSide
	case "interior":
		return p.Interior
	}
	return nil
}
