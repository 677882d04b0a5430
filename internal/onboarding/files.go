package onboarding

import (
	"fmt"
	"slices"
	"strings"
)

// FileKey addresses one document or photo slot, e.g. documents.driverLicense.
type FileKey struct {
	Section SectionKey
	Slot    string
}

func (k FileKey) String() string {
	return string(k.Section) + "." + k.Slot
}

// Validate checks that the key names a known file slot.
func (k FileKey) Validate() error {
	switch k.Section {
	case SectionDocuments:
		if slices.Contains(DocumentSlots, k.Slot) {
			return nil
		}
	case SectionPhotos:
		if slices.Contains(PhotoSlots, k.Slot) {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown file slot %q", ErrInvalidSection, k.String())
}

// Step returns the step whose section holds the slot.
func (k FileKey) Step() int {
	if k.Section == SectionPhotos {
		return StepPhotos
	}
	return StepDocuments
}

// ParseFileKey parses "section.slot".
func ParseFileKey(s string) (FileKey, error) {
	section, slot, ok := strings.Cut(s, ".")
	if !ok {
		return FileKey{}, fmt.Errorf("%w: file slot %q must be section.slot", ErrInvalidSection, s)
	}
	k := FileKey{Section: SectionKey(section), Slot: slot}
	return k, k.Validate()
}
