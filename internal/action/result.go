package action

import "maps"

type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultValue
	ResultFields
)

func (k ResultKind) String() string {
	switch k {
	case ResultValue:
		return "value"
	case ResultFields:
		return "fields"
	default:
		return "none"
	}
}

// Result is what a handler produced: nothing, a single value, or named fields.
type Result struct {
	kind   ResultKind
	value  any
	fields map[string]any
}

func ValueResult(v any) Result { return Result{kind: ResultValue, value: v} }

func FieldsResult(fields map[string]any) Result {
	return Result{kind: ResultFields, fields: maps.Clone(fields)}
}

func (r Result) Kind() ResultKind { return r.kind }

// Value returns the single value, or nil for none/fields results.
func (r Result) Value() any {
	if r.kind != ResultValue {
		return nil
	}
	return r.value
}

// Fields returns a copy of the named fields, or nil for none/value results.
func (r Result) Fields() map[string]any {
	if r.kind != ResultFields {
		return nil
	}
	return maps.Clone(r.fields)
}

// Any returns the whole result: nil, the single value, or the field map.
func (r Result) Any() any {
	switch r.kind {
	case ResultValue:
		return r.value
	case ResultFields:
		return maps.Clone(r.fields)
	default:
		return nil
	}
}

// Get mirrors index access on the result.
//
// No keys returns the whole result. One key returns that field or nil (always
// nil for a single-value result). Several keys return the subset of fields
// that are present.
func (r Result) Get(keys ...string) any {
	switch len(keys) {
	case 0:
		return r.Any()
	case 1:
		if r.kind != ResultFields {
			return nil
		}
		return r.fields[keys[0]]
	}
	out := make(map[string]any, len(keys))
	if r.kind != ResultFields {
		return out
	}
	for _, k := range keys {
		if v, ok := r.fields[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}
