// Package recovery decides where a returning driver should resume.
package recovery

import "github.com/johndauphine/onboard-sync/internal/onboarding"

// Screen names a destination in the onboarding flow.
type Screen string

const (
	PersonalDataScreen    Screen = "PersonalDataScreen"
	VehicleDataScreen     Screen = "VehicleDataScreen"
	DocumentsUploadScreen Screen = "DocumentsUploadScreen"
	VehiclePhotosScreen   Screen = "VehiclePhotosScreen"
	ReviewAndSubmitScreen Screen = "ReviewAndSubmitScreen"
	PendingReviewScreen   Screen = "PendingReviewScreen"
	DriverStatusScreen    Screen = "DriverStatusScreen"
)

// Step 8 is the terminal "completed" step and shares the status screen.
var screens = map[int]Screen{
	1: PersonalDataScreen,
	2: VehicleDataScreen,
	3: DocumentsUploadScreen,
	4: VehiclePhotosScreen,
	5: ReviewAndSubmitScreen,
	6: PendingReviewScreen,
	7: DriverStatusScreen,
	8: DriverStatusScreen,
}

// Result is the outcome of Plan.
type Result struct {
	ShouldNavigate bool
	TargetScreen   Screen
	Step           int
}

// Plan maps a saved record to its resume screen. It has no side effects.
func Plan(rec *onboarding.ProgressRecord) Result {
	if rec == nil || rec.CurrentStep <= 0 {
		return Result{}
	}
	screen, ok := screens[rec.CurrentStep]
	if !ok {
		return Result{Step: rec.CurrentStep}
	}
	return Result{ShouldNavigate: true, TargetScreen: screen, Step: rec.CurrentStep}
}

// ScreenFor returns the screen for step, if any.
func ScreenFor(step int) (Screen, bool) {
	s, ok := screens[step]
	return s, ok
}
