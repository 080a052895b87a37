package state

import "sort"

// Update is a partial state update returned by a node body.
type Update map[string]any

// Field declares one state field and its merge policy.
type Field struct {
	Name    string
	Reducer Reducer
	// Default is written when a thread is created.
	Default any
}

// Declare is shorthand for a Field without default.
func Declare(name string, r Reducer) Field {
	return Field{Name: name, Reducer: r}
}

// Schema is the set of declared fields of a graph.
// A Schema is immutable once built; With returns a copy.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema creates a schema from field declarations. Later declarations of
// the same name win.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		s.add(f)
	}
	return s
}

func (s *Schema) add(f Field) {
	if f.Reducer.Fn == nil {
		f.Reducer = Replace
	}
	if _, exists := s.fields[f.Name]; !exists {
		s.order = append(s.order, f.Name)
	}
	s.fields[f.Name] = f
}

// With returns a copy of the schema extended with the given fields.
func (s *Schema) With(fields ...Field) *Schema {
	out := &Schema{fields: make(map[string]Field, len(s.fields)+len(fields))}
	for _, name := range s.order {
		out.add(s.fields[name])
	}
	for _, f := range fields {
		out.add(f)
	}
	return out
}

// Field returns the declaration of a field.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether the field is declared.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Names returns field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Defaults returns the initial values of fields that declare one.
func (s *Schema) Defaults() (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range s.order {
		f := s.fields[name]
		if f.Default == nil {
			continue
		}
		v, err := Normalize(f.Default)
		if err != nil {
			return nil, fieldError(name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Project keeps the keys of values that are declared in the schema.
func (s *Schema) Project(values map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s.Has(k) {
			out[k] = Copy(values[k])
		}
	}
	return out
}
