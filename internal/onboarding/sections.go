package onboarding

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SectionKey names one of the fixed record sections.
type SectionKey string

const (
	SectionPersonal  SectionKey = "personal"
	SectionVehicle   SectionKey = "vehicle"
	SectionDocuments SectionKey = "documents"
	SectionPhotos    SectionKey = "photos"
	SectionMisc      SectionKey = "misc"
)

// SectionKeys lists every section in storage order.
var SectionKeys = []SectionKey{SectionPersonal, SectionVehicle, SectionDocuments, SectionPhotos, SectionMisc}

// ParseSectionKey validates a section name.
func ParseSectionKey(s string) (SectionKey, error) {
	for _, k := range SectionKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown section %q", ErrInvalidSection, s)
}

// EmergencyContact is nested inside the personal section. The app form sends
// phoneNumber; older records carry phone.
type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`

	// Extra holds keys this version does not model.
	Extra map[string]any `json:"-"`
}

// PersonalSection holds step 1 data. It accepts both the form field names
// (phoneNumber, birthDate) and the profile names (phone, dateOfBirth).
type PersonalSection struct {
	FirstName        string            `json:"firstName,omitempty"`
	LastName         string            `json:"lastName,omitempty"`
	Email            string            `json:"email,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	PhoneNumber      string            `json:"phoneNumber,omitempty"`
	Address          string            `json:"address,omitempty"`
	City             string            `json:"city,omitempty"`
	State            string            `json:"state,omitempty"`
	ZipCode          string            `json:"zipCode,omitempty"`
	DateOfBirth      string            `json:"dateOfBirth,omitempty"`
	BirthDate        string            `json:"birthDate,omitempty"`
	NationalID       string            `json:"nationalId,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty"`
	Status           string            `json:"status,omitempty"`
	IsBlocked        *bool             `json:"isBlocked,omitempty"`

	Extra map[string]any `json:"-"`
}

// VehicleSection holds step 2 data.
type VehicleSection struct {
	Make         string    `json:"make,omitempty"`
	Model        string    `json:"model,omitempty"`
	Year         ModelYear `json:"year,omitempty"`
	LicensePlate string    `json:"licensePlate,omitempty"`
	Color        string    `json:"color,omitempty"`

	Extra map[string]any `json:"-"`
}

// FileRef describes one document or photo slot and its upload state.
type FileRef struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	Type           string `json:"type,omitempty"`
	Size           int64  `json:"size,omitempty"`
	URI            string `json:"uri,omitempty"`
	UploadURL      string `json:"uploadUrl,omitempty"`
	UploadStatus   string `json:"uploadStatus,omitempty"`
	UploadProgress int    `json:"uploadProgress,omitempty"`

	Extra map[string]any `json:"-"`
}

// Uploaded reports whether the file has a remote URL.
func (f *FileRef) Uploaded() bool {
	return f != nil && f.UploadURL != ""
}

// DocumentsSection holds step 3 data.
type DocumentsSection struct {
	NationalIDFront     *FileRef `json:"nationalIdFront,omitempty"`
	NationalIDBack      *FileRef `json:"nationalIdBack,omitempty"`
	DriverLicense       *FileRef `json:"driverLicense,omitempty"`
	VehicleRegistration *FileRef `json:"vehicleRegistration,omitempty"`
}

// PhotosSection holds step 4 data.
type PhotosSection struct {
	Front     *FileRef `json:"front,omitempty"`
	Back      *FileRef `json:"back,omitempty"`
	LeftSide  *FileRef `json:"leftSide,omitempty"`
	RightSide *FileRef `json:"rightSide,omitempty"`
	Interior  *FileRef `json:"interior,omitempty"`
}

// DocumentSlots and PhotoSlots list the file fields required for submission.
var (
	DocumentSlots = []string{"nationalIdFront", "nationalIdBack", "driverLicense", "vehicleRegistration"}
	PhotoSlots    = []string{"front", "back", "leftSide", "rightSide", "interior"}
)

// Sections is the per-step form data of a record. A nil field means the
// section was never started.
type Sections struct {
	Personal  *PersonalSection  `json:"personal,omitempty"`
	Vehicle   *VehicleSection   `json:"vehicle,omitempty"`
	Documents *DocumentsSection `json:"documents,omitempty"`
	Photos    *PhotosSection    `json:"photos,omitempty"`
	Misc      map[string]any    `json:"misc,omitempty"`
}

// Has reports whether the section has been started.
func (s *Sections) Has(key SectionKey) bool {
	switch key {
	case SectionPersonal:
		return s.Personal != nil
	case SectionVehicle:
		return s.Vehicle != nil
	case SectionDocuments:
		return s.Documents != nil
	case SectionPhotos:
		return s.Photos != nil
	case SectionMisc:
		return len(s.Misc) > 0
	}
	return false
}

// Only returns a Sections value carrying just the named section.
func (s *Sections) Only(key SectionKey) *Sections {
	out := &Sections{}
	switch key {
	case SectionPersonal:
		out.Personal = s.Personal
	case SectionVehicle:
		out.Vehicle = s.Vehicle
	case SectionDocuments:
		out.Documents = s.Documents
	case SectionPhotos:
		out.Photos = s.Photos
	case SectionMisc:
		out.Misc = s.Misc
	}
	return out
}

// Clone returns a deep copy.
func (s *Sections) Clone() Sections {
	var out Sections
	if s == nil {
		return out
	}
	data, err := json.Marshal(s)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// MarshalSection encodes one section to its stored JSON blob. A section that
// was never started encodes as nil.
func (s *Sections) MarshalSection(key SectionKey) ([]byte, error) {
	if !s.Has(key) {
		return nil, nil
	}
	var v any
	switch key {
	case SectionPersonal:
		v = s.Personal
	case SectionVehicle:
		v = s.Vehicle
	case SectionDocuments:
		v = s.Documents
	case SectionPhotos:
		v = s.Photos
	case SectionMisc:
		v = s.Misc
	}
	return json.Marshal(v)
}

// UnmarshalSection decodes a stored blob into the named section.
func (s *Sections) UnmarshalSection(key SectionKey, blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	switch key {
	case SectionPersonal:
		s.Personal = &PersonalSection{}
		return json.Unmarshal(blob, s.Personal)
	case SectionVehicle:
		s.Vehicle = &VehicleSection{}
		return json.Unmarshal(blob, s.Vehicle)
	case SectionDocuments:
		s.Documents = &DocumentsSection{}
		return json.Unmarshal(blob, s.Documents)
	case SectionPhotos:
		s.Photos = &PhotosSection{}
		return json.Unmarshal(blob, s.Photos)
	case SectionMisc:
		return json.Unmarshal(blob, &s.Misc)
	}
	return fmt.Errorf("%w: unknown section %q", ErrInvalidSection, key)
}

// MergeSection merges payload into the named section. Object fields merge
// recursively; fields the payload does not mention keep their value. The
// payload may be a map, a struct or raw JSON. Values of the wrong type are
// rejected. Unknown keys are kept in the section's Extra map, except that the
// documents and photos sections only accept their fixed slot names.
func MergeSection(s *Sections, key SectionKey, payload any) error {
	if payload == nil {
		return nil
	}
	incoming, err := toObject(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSection, key, err)
	}

	if key == SectionMisc {
		if s.Misc == nil {
			s.Misc = map[string]any{}
		}
		MergeObjects(s.Misc, incoming)
		return nil
	}

	existing := map[string]any{}
	if blob, err := s.MarshalSection(key); err != nil {
		return fmt.Errorf("encoding %s section: %w", key, err)
	} else if blob != nil {
		if err := json.Unmarshal(blob, &existing); err != nil {
			return fmt.Errorf("decoding %s section: %w", key, err)
		}
	}
	MergeObjects(existing, incoming)

	merged, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encoding %s section: %w", key, err)
	}
	if err := decodeSection(key, merged, s); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSection, key, err)
	}
	return nil
}

func decodeSection(key SectionKey, blob []byte, s *Sections) error {
	dec := json.NewDecoder(bytes.NewReader(blob))
	// Only reaches the slot level of documents and photos; the personal and
	// vehicle decoders collect unknown keys themselves.
	dec.DisallowUnknownFields()
	switch key {
	case SectionPersonal:
		v := &PersonalSection{}
		if err := dec.Decode(v); err != nil {
			return err
		}
		s.Personal = v
	case SectionVehicle:
		v := &VehicleSection{}
		if err := dec.Decode(v); err != nil {
			return err
		}
		s.Vehicle = v
	case SectionDocuments:
		v := &DocumentsSection{}
		if err := dec.Decode(v); err != nil {
			return err
		}
		s.Documents = v
	case SectionPhotos:
		v := &PhotosSection{}
		if err := dec.Decode(v); err != nil {
			return err
		}
		s.Photos = v
	default:
		return fmt.Errorf("unknown section %q", key)
	}
	return nil
}

// toObject normalises a payload into a JSON object map.
func toObject(payload any) (map[string]any, error) {
	var raw []byte
	switch p := payload.(type) {
	case map[string]any:
		raw, _ = json.Marshal(p)
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	obj := map[string]any{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return obj, nil
}

// MergeObjects merges src into dst. Nested objects merge recursively; any
// other value in src replaces the one in dst.
func MergeObjects(dst, src map[string]any) {
	for k, v := range src {
		srcObj, srcIsObj := v.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			MergeObjects(dstObj, srcObj)
			continue
		}
		if srcIsObj {
			cp := make(map[string]any, len(srcObj))
			MergeObjects(cp, srcObj)
			dst[k] = cp
			continue
		}
		dst[k] = v
	}
}
