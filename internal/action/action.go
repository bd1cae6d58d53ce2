package action

import (
	"context"
	"fmt"
)

// Handler is the single entry point every action exposes.
//
// Run reads the arguments captured on x and stores its output with
// x.SetResult / x.SetValue / x.SetFields. Handlers are cached per identity key
// and may run concurrently, so they must keep per-call state on x only.
type Handler interface {
	Run(ctx context.Context, x *Execution) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, x *Execution) error

func (f HandlerFunc) Run(ctx context.Context, x *Execution) error { return f(ctx, x) }

// Streamable marks handlers whose result is always text.
// Only streamable handlers can be dispatched or opened as a stream.
type Streamable interface {
	Handler
	StreamsText()
}

// Factory instantiates a handler type.
type Factory func() Handler

// Param is a named argument (key=value term of a direct request).
// Bare terms are passed as plain strings.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (p Param) String() string { return p.Value }

// Streaming wraps a function as a streamable handler.
func Streaming(fn func(ctx context.Context, x *Execution) error) Handler {
	return streamingFunc(fn)
}

type streamingFunc func(ctx context.Context, x *Execution) error

func (f streamingFunc) Run(ctx context.Context, x *Execution) error { return f(ctx, x) }
func (streamingFunc) StreamsText()                                  {}

// Text coerces a result to text. ok is false when v is not text-like.
func Text(v any) (s string, ok bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}

// Stringify renders any argument or result for output sinks.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := Text(v); ok {
		return s
	}
	return fmt.Sprint(v)
}
