package state

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// ReduceFunc merges an incoming value into the current value of a field.
// current is nil when the field has never been written.
type ReduceFunc func(current, incoming any) (any, error)

// Reducer is the merge policy of one state field.
type Reducer struct {
	Name string
	Fn   ReduceFunc

	// OrderSensitive reducers are merged in submission order when several
	// writers target the same field within one wave. Other reducers are
	// merged in completion order.
	OrderSensitive bool
}

// Reduce applies the reducer.
func (r Reducer) Reduce(current, incoming any) (any, error) {
	if r.Fn == nil {
		return incoming, nil
	}
	return r.Fn(current, incoming)
}

// Replace keeps the last written value.
var Replace = Reducer{
	Name: "replace",
	Fn: func(_, incoming any) (any, error) {
		return incoming, nil
	},
}

// Append concatenates sequences. A non-slice incoming value is appended as a
// single element. Values are stored as []any so that persisted and in-memory
// checkpoints look the same.
var Append = Reducer{
	Name:           "append",
	OrderSensitive: true,
	Fn: func(current, incoming any) (any, error) {
		out := toSlice(current)
		if incoming == nil {
			return out, nil
		}
		return append(out, toSlice(incoming)...), nil
	},
}

// Sum adds numbers. Integral operands stay integral.
var Sum = Reducer{
	Name: "sum",
	Fn: func(current, incoming any) (any, error) {
		if current == nil {
			current = 0
		}
		ci, cf, cInt, err := number(current)
		if err != nil {
			return nil, fmt.Errorf("sum: current value: %w", err)
		}
		ii, inf, iInt, err := number(incoming)
		if err != nil {
			return nil, fmt.Errorf("sum: incoming value: %w", err)
		}
		if cInt && iInt {
			return int(ci + ii), nil
		}
		return cf + inf, nil
	},
}

// Delta is the amount a Sum field grew from before to after, so that adding
// it back through Sum reproduces after. A nil before counts as zero.
func Delta(before, after any) (any, error) {
	if before == nil {
		before = 0
	}
	bi, bf, bInt, err := number(before)
	if err != nil {
		return nil, fmt.Errorf("delta: before: %w", err)
	}
	ai, af, aInt, err := number(after)
	if err != nil {
		return nil, fmt.Errorf("delta: after: %w", err)
	}
	if bInt && aInt {
		return int(ai - bi), nil
	}
	return af - bf, nil
}

// Union merges sequences as a set, keeping first-seen order.
var Union = Reducer{
	Name: "union",
	Fn: func(current, incoming any) (any, error) {
		out := toSlice(current)
		seen := make(map[string]struct{}, len(out))
		for _, v := range out {
			seen[setKey(v)] = struct{}{}
		}
		if incoming == nil {
			return out, nil
		}
		for _, v := range toSlice(incoming) {
			k := setKey(v)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
		return out, nil
	},
}

// Custom builds a user-defined reducer.
func Custom(name string, fn ReduceFunc, orderSensitive bool) Reducer {
	return Reducer{Name: name, Fn: fn, OrderSensitive: orderSensitive}
}

func toSlice(v any) []any {
	if v == nil {
		return []any{}
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		copy(out, s)
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		// []byte is a scalar for our purposes
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return []any{v}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

func setKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// number normalizes the numeric representations produced by Go code and by
// JSON decoding (float64, json.Number).
func number(v any) (int64, float64, bool, error) {
	switch n := v.(type) {
	case int:
		return int64(n), float64(n), true, nil
	case int8:
		return int64(n), float64(n), true, nil
	case int16:
		return int64(n), float64(n), true, nil
	case int32:
		return int64(n), float64(n), true, nil
	case int64:
		return n, float64(n), true, nil
	case uint:
		return int64(n), float64(n), true, nil
	case uint8:
		return int64(n), float64(n), true, nil
	case uint16:
		return int64(n), float64(n), true, nil
	case uint32:
		return int64(n), float64(n), true, nil
	case uint64:
		return int64(n), float64(n), true, nil
	case float32:
		f := float64(n)
		return int64(f), f, f == math.Trunc(f), nil
	case float64:
		return int64(n), n, n == math.Trunc(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, float64(i), true, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, 0, false, err
		}
		return int64(f), f, false, nil
	default:
		return 0, 0, false, fmt.Errorf("not a number: %T", v)
	}
}
