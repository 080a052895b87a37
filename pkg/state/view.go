package state

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// MissingFieldError is returned when a node reads a required field that is
// absent from the state.
type MissingFieldError struct {
	Node  string
	Field string
}

func (e *MissingFieldError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("required field %q is missing", e.Field)
	}
	return fmt.Sprintf("node '%s' requires field %q which is missing", e.Node, e.Field)
}

// View is a read-only snapshot handed to node bodies and routers.
// Accessors return copies; nothing a node does with a View reaches the checkpoint.
type View struct {
	values  map[string]any
	version int
}

// NewView builds a view over a copy of values.
func NewView(values map[string]any) View {
	return View{values: CopyMap(values)}
}

// NewViewAt builds a view over a copy of values taken at version.
func NewViewAt(values map[string]any, version int) View {
	return View{values: CopyMap(values), version: version}
}

// Version is the store version the view was taken at.
func (v View) Version() int {
	return v.version
}

// Overlay returns a view with extra values layered on top. The extra values
// are normalized; invalid values are dropped with an error.
func (v View) Overlay(extra map[string]any) (View, error) {
	values := CopyMap(v.values)
	for k, e := range extra {
		n, err := Normalize(e)
		if err != nil {
			return View{}, fieldError(k, err)
		}
		values[k] = n
	}
	return View{values: values, version: v.version}, nil
}

// Values returns a deep copy of all values.
func (v View) Values() map[string]any {
	return CopyMap(v.values)
}

// Get returns a copy of a field value.
func (v View) Get(key string) (any, bool) {
	val, ok := v.values[key]
	if !ok {
		return nil, false
	}
	return Copy(val), true
}

// Has reports whether a field holds a non-nil value.
func (v View) Has(key string) bool {
	val, ok := v.values[key]
	return ok && val != nil
}

// Require fails with a *MissingFieldError for the first absent key.
func (v View) Require(keys ...string) error {
	for _, k := range keys {
		if !v.Has(k) {
			return &MissingFieldError{Field: k}
		}
	}
	return nil
}

// String returns the field as a string, or "" when absent or not a string.
func (v View) String(key string) string {
	s, _ := v.values[key].(string)
	return s
}

// Bool returns the field as a bool, or false.
func (v View) Bool(key string) bool {
	b, _ := v.values[key].(bool)
	return b
}

// Int returns the field as an int, or 0 when absent or not numeric.
func (v View) Int(key string) int {
	i, _, _, err := number(v.values[key])
	if err != nil {
		return 0
	}
	return int(i)
}

// Float returns the field as a float64, or 0.
func (v View) Float(key string) float64 {
	_, f, _, err := number(v.values[key])
	if err != nil {
		return 0
	}
	return f
}

// Slice returns a copy of a sequence field, or nil.
func (v View) Slice(key string) []any {
	s, ok := v.values[key].([]any)
	if !ok {
		return nil
	}
	return Copy(s).([]any)
}

// Strings returns the string elements of a sequence field.
func (v View) Strings(key string) []string {
	var out []string
	for _, e := range v.Slice(key) {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Decode decodes a field into out (a pointer), matching struct fields by
// their json tags.
func (v View) Decode(key string, out any) error {
	val, ok := v.values[key]
	if !ok {
		return &MissingFieldError{Field: key}
	}
	return DecodeValue(val, out)
}

// DecodeValue decodes a normalized value into out.
func DecodeValue(val any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(Copy(val)); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}
