package onboarding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// ModelYear is a vehicle model year. It decodes from a JSON number or string
// and encodes as a number whenever it holds an integer.
type ModelYear string

// MarshalJSON implements json.Marshaler.
func (y ModelYear) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(y)); err == nil {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(y))
}

// UnmarshalJSON implements json.Unmarshaler.
func (y *ModelYear) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*y = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*y = ModelYear(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("model year must be a number or string, got %s", data)
	}
	*y = ModelYear(n.String())
	return nil
}

// Views without methods so the codecs below can reuse the default encoding.
type (
	emergencyContactView EmergencyContact
	personalView         PersonalSection
	vehicleView          VehicleSection
	fileRefView          FileRef
)

func (c EmergencyContact) MarshalJSON() ([]byte, error) {
	return joinExtra(emergencyContactView(c), c.Extra)
}

func (c *EmergencyContact) UnmarshalJSON(data []byte) error {
	extra, err := splitExtra(data, (*emergencyContactView)(c))
	c.Extra = extra
	return err
}

func (p PersonalSection) MarshalJSON() ([]byte, error) {
	return joinExtra(personalView(p), p.Extra)
}

func (p *PersonalSection) UnmarshalJSON(data []byte) error {
	extra, err := splitExtra(data, (*personalView)(p))
	p.Extra = extra
	return err
}

func (v VehicleSection) MarshalJSON() ([]byte, error) {
	return joinExtra(vehicleView(v), v.Extra)
}

func (v *VehicleSection) UnmarshalJSON(data []byte) error {
	extra, err := splitExtra(data, (*vehicleView)(v))
	v.Extra = extra
	return err
}

func (f FileRef) MarshalJSON() ([]byte, error) {
	return joinExtra(fileRefView(f), f.Extra)
}

func (f *FileRef) UnmarshalJSON(data []byte) error {
	extra, err := splitExtra(data, (*fileRefView)(f))
	f.Extra = extra
	return err
}

// splitExtra decodes data into v and returns the object keys v does not
// declare. It returns nil when there are none.
func splitExtra(data []byte, v any) (map[string]any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for name := range jsonNames(reflect.TypeOf(v).Elem()) {
		delete(all, name)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// joinExtra encodes v and adds the extra keys it does not already carry.
func joinExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	obj := map[string]any{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	names := jsonNames(reflect.TypeOf(v))
	for k, val := range extra {
		if _, declared := names[k]; declared {
			continue
		}
		if _, ok := obj[k]; !ok {
			obj[k] = val
		}
	}
	return json.Marshal(obj)
}

var jsonNameCache sync.Map // reflect.Type -> map[string]struct{}

// jsonNames returns the JSON object keys declared by struct type t.
func jsonNames(t reflect.Type) map[string]struct{} {
	if cached, ok := jsonNameCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	names := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = struct{}{}
	}
	jsonNameCache.Store(t, names)
	return names
}
