package action

import (
	"context"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Descriptor is the cached result of resolving a logical path.
// It is read-only after load and shared by all callers.
type Descriptor struct {
	Key         string
	TypeName    string
	Location    string
	Description string
	Params      map[string]string

	handler Handler
	hooks   *hooks
}

// Streamable reports whether the handler always produces text.
func (d *Descriptor) Streamable() bool {
	_, ok := d.handler.(Streamable)
	return ok
}

// Param returns a static definition parameter.
func (d *Descriptor) Param(name string) (string, bool) {
	v, ok := d.Params[name]
	return v, ok
}

// NewExecution returns fresh per-call state bound to this descriptor.
func (d *Descriptor) NewExecution() *Execution {
	return &Execution{desc: d}
}

// Invoke runs the handler once in a fresh execution.
func (d *Descriptor) Invoke(ctx context.Context, args ...any) (*Execution, error) {
	x := d.NewExecution()
	if err := x.Invoke(ctx, args...); err != nil {
		return x, err
	}
	return x, nil
}

// InvokeAsDirectRequest is Invoke with the direct-request flag set.
func (d *Descriptor) InvokeAsDirectRequest(ctx context.Context, args ...any) (*Execution, error) {
	x := d.NewExecution()
	if err := x.InvokeAsDirectRequest(ctx, args...); err != nil {
		return x, err
	}
	return x, nil
}

type definition struct {
	Handler     string            `hcl:"handler,optional"`
	Description string            `hcl:"description,optional"`
	Params      map[string]string `hcl:"params,optional"`
}

func decodeDefinition(filename string, src []byte) (definition, error) {
	var def definition
	if err := hclsimple.Decode(filename, src, nil, &def); err != nil {
		return definition{}, err
	}
	return def, nil
}
