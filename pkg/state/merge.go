package state

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUndeclaredField is returned when an update targets a field that the
// schema does not declare.
var ErrUndeclaredField = errors.New("undeclared state field")

// Write is one field contribution produced by a node or task.
type Write struct {
	Field string
	Value any
	// Submitted is the position of the writer in its wave (submission order).
	Submitted int
	// Completed is the position in which the writer finished.
	Completed int
}

// WritesFrom expands an update into writes sharing the same ordering keys.
func WritesFrom(u Update, submitted, completed int) []Write {
	keys := make([]string, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Write, 0, len(keys))
	for _, k := range keys {
		out = append(out, Write{Field: k, Value: u[k], Submitted: submitted, Completed: completed})
	}
	return out
}

// Reduce merges writes into values through each field's reducer. Writes to
// an order-sensitive field are applied in submission order, all others in
// completion order. The merge is atomic: on error nothing is returned and
// values is never modified. Versioning belongs to the checkpoint that
// carries the result (see thread.Manager.CompareAndSwap).
func Reduce(schema *Schema, values map[string]any, writes []Write) (map[string]any, error) {
	for _, w := range writes {
		if !schema.Has(w.Field) {
			return nil, fmt.Errorf("%w: %q", ErrUndeclaredField, w.Field)
		}
	}

	// Fields are independent; only writes of the same field are ordered.
	byField := make(map[string][]Write)
	var fields []string
	for _, w := range writes {
		if _, ok := byField[w.Field]; !ok {
			fields = append(fields, w.Field)
		}
		byField[w.Field] = append(byField[w.Field], w)
	}
	for _, ws := range byField {
		field := ws[0].Field
		f, _ := schema.Field(field)
		sort.SliceStable(ws, func(i, j int) bool {
			if f.Reducer.OrderSensitive {
				return ws[i].Submitted < ws[j].Submitted
			}
			return ws[i].Completed < ws[j].Completed
		})
	}

	next := CopyMap(values)
	for _, field := range fields {
		f, _ := schema.Field(field)
		for _, w := range byField[field] {
			incoming, err := Normalize(w.Value)
			if err != nil {
				return nil, fieldError(field, err)
			}
			merged, err := f.Reducer.Reduce(next[field], incoming)
			if err != nil {
				return nil, fieldError(field, err)
			}
			merged, err = Normalize(merged)
			if err != nil {
				return nil, fieldError(field, err)
			}
			next[field] = merged
		}
	}
	return next, nil
}
