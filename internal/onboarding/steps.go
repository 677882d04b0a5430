package onboarding

import "math"

// DefaultTotalSteps is the length of the onboarding flow.
const DefaultTotalSteps = 8

// Well-known steps referenced outside the form flow.
const (
	StepPersonal      = 1
	StepVehicle       = 2
	StepDocuments     = 3
	StepPhotos        = 4
	StepReview        = 5
	StepPendingReview = 6
	StepStatus        = 7
)

var stepNames = map[int]string{
	1: "Personal data",
	2: "Vehicle data",
	3: "Documents",
	4: "Vehicle photos",
	5: "Review and submit",
	6: "Pending review",
	7: "Driver status",
	8: "Completed",
}

// SectionKeyFor returns the section that holds a step's form data.
// Steps without a dedicated section land in misc.
func SectionKeyFor(step int) SectionKey {
	switch step {
	case StepPersonal:
		return SectionPersonal
	case StepVehicle:
		return SectionVehicle
	case StepDocuments:
		return SectionDocuments
	case StepPhotos:
		return SectionPhotos
	default:
		return SectionMisc
	}
}

// StepName returns a human readable step name.
func StepName(step int) string {
	if name, ok := stepNames[step]; ok {
		return name
	}
	return "Unknown"
}

// ProgressFor returns the completion percentage for a step, rounded half up.
func ProgressFor(step, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(step) / float64(total) * 100))
}

// ValidStep reports whether step lies in [1, total].
func ValidStep(step, total int) bool {
	return step >= 1 && step <= total
}
