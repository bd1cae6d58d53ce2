package action

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Execution is the state of one call to a resolved action.
//
// It is created per call (Descriptor.NewExecution) and never cached, so two
// concurrent calls to the same logical path do not share arguments or results.
type Execution struct {
	desc *Descriptor

	args    []any
	result  Result
	direct  bool
	started time.Time
	ended   time.Time
}

// Invoke captures args and runs the handler.
//
// In debug mode the run is timed and, when it succeeds, every attached
// observer receives a Record. Handler errors are returned unchanged.
func (x *Execution) Invoke(ctx context.Context, args ...any) error {
	x.args = args

	h := x.desc.hooks
	if h == nil || !h.debugEnabled() {
		x.result = Result{}
		return x.desc.handler.Run(ctx, x)
	}

	x.started = time.Now()
	if err := x.desc.handler.Run(ctx, x); err != nil {
		return err
	}
	x.ended = time.Now()

	h.notify(x.Record())
	return nil
}

// InvokeAsDirectRequest marks the call as arriving over the request channel and runs it.
func (x *Execution) InvokeAsDirectRequest(ctx context.Context, args ...any) error {
	x.direct = true
	return x.Invoke(ctx, args...)
}

// SetResult stores the handler output.
//
// No values is a no-op and returns false. One value becomes the whole result.
// Two or more are read as name/value pairs and merged into a field result; an
// unmatched trailing name and names paired with nil are dropped.
func (x *Execution) SetResult(values ...any) bool {
	switch len(values) {
	case 0:
		return false
	case 1:
		x.result = ValueResult(values[0])
		return true
	}

	fields := map[string]any{}
	if x.result.kind == ResultFields {
		maps.Copy(fields, x.result.fields)
	}
	for i := 0; i+1 < len(values); i += 2 {
		if values[i+1] == nil {
			continue
		}
		fields[fmt.Sprint(values[i])] = values[i+1]
	}
	x.result = Result{kind: ResultFields, fields: fields}
	return true
}

func (x *Execution) SetValue(v any) { x.result = ValueResult(v) }

func (x *Execution) SetFields(fields map[string]any) { x.result = FieldsResult(fields) }

// Result returns the result or parts of it; see Result.Get.
func (x *Execution) Result(keys ...string) any { return x.result.Get(keys...) }

// Output returns the typed result.
func (x *Execution) Output() Result { return x.result }

// Args returns a copy of the captured arguments.
func (x *Execution) Args() []any { return append([]any(nil), x.args...) }

// Arg returns argument i as text, or "" when i is out of range.
func (x *Execution) Arg(i int) string {
	if i < 0 || i >= len(x.args) {
		return ""
	}
	return Stringify(x.args[i])
}

// Param returns the value of the first named argument called name.
func (x *Execution) Param(name string) (string, bool) {
	for _, a := range x.args {
		if p, ok := a.(Param); ok && p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func (x *Execution) IsDirectRequest() bool { return x.direct }

func (x *Execution) StartTime() time.Time { return x.started }

func (x *Execution) EndTime() time.Time { return x.ended }

func (x *Execution) Descriptor() *Descriptor { return x.desc }

// Record snapshots the execution for observers.
func (x *Execution) Record() Record {
	return newRecord(x)
}
