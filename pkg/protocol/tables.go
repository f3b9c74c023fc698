package protocol

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

var ErrNotScalar = errors.New("value is not a scalar")

// Table is a flat key -> scalar mapping. Scalars are bool, float64 or
// string, the shapes encoding/json produces for JSON scalars.
type Table map[string]any

// Tables maps a table name to its key/value records.
type Tables map[string]Table

// Scalar normalizes v to one of the three scalar kinds a table holds.
// Integer and float kinds collapse to float64 so values edited locally
// compare equal to values decoded from the wire.
func Scalar(v any) (any, error) {
	switch x := v.(type) {
	case bool, string, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotScalar, v)
	}
}

// SameKind reports whether a and b are scalars of the same kind.
func SameKind(a, b any) bool {
	switch a.(type) {
	case bool:
		_, ok := b.(bool)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case float64:
		_, ok := b.(float64)
		return ok
	}
	return false
}

func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (t Table) Equal(o Table) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		w, ok := o[k]
		if !ok || !reflect.DeepEqual(v, w) {
			return false
		}
	}
	return true
}

func (ts Tables) Clone() Tables {
	if ts == nil {
		return nil
	}
	out := make(Tables, len(ts))
	for name, t := range ts {
		out[name] = t.Clone()
	}
	return out
}

// Equal is value equality. A nil set and an empty set are equal.
func (ts Tables) Equal(o Tables) bool {
	if len(ts) != len(o) {
		return false
	}
	for name, t := range ts {
		u, ok := o[name]
		if !ok || !t.Equal(u) {
			return false
		}
	}
	return true
}

// Lookup returns the value stored under table/key.
func (ts Tables) Lookup(table, key string) (any, bool) {
	t, ok := ts[table]
	if !ok {
		return nil, false
	}
	v, ok := t[key]
	return v, ok
}

// Changed lists the tables whose contents differ between ts and o.
func (ts Tables) Changed(o Tables) []string {
	var names []string
	for name, t := range ts {
		if !t.Equal(o[name]) {
			names = append(names, name)
		}
	}
	for name := range o {
		if _, ok := ts[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
