// Package dispatch normalizes the command, direct-request and trigger input
// shapes into invocations and runs them against the action registry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"actionrunner/internal/action"
	"actionrunner/internal/eventbus"
	"actionrunner/pkg/logx"
)

// Sweeper produces trigger entries for one pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]Invocation, error)
}

type Options struct {
	Logger logx.Logger
	Bus    eventbus.Bus
	// Sweeper backs the EmailSentinel command. Nil disables it.
	Sweeper Sweeper
	// Now is used for sweeps. Nil means time.Now.
	Now func() time.Time
}

type Dispatcher struct {
	reg     *action.Registry
	log     logx.Logger
	bus     eventbus.Bus
	sweeper Sweeper
	now     func() time.Time
}

func New(reg *action.Registry, opts Options) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		reg:     reg,
		log:     opts.Logger.With(logx.String("comp", "dispatch")),
		bus:     opts.Bus,
		sweeper: opts.Sweeper,
		now:     now,
	}
}

// SetSweeper replaces the trigger source used by the EmailSentinel command.
func (d *Dispatcher) SetSweeper(s Sweeper) { d.sweeper = s }

// Dispatch resolves inv, runs it and writes the stringified result to w.
// Non-streamable handlers fail with ErrNotStreamable before anything runs.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, w io.Writer) error {
	desc, err := d.reg.Resolve(inv.Path)
	if err != nil {
		d.failed(inv, err)
		return err
	}
	if !desc.Streamable() {
		err := action.NotStreamable(inv.Path)
		d.failed(inv, err)
		return err
	}

	x := desc.NewExecution()
	if inv.Direct {
		err = x.InvokeAsDirectRequest(ctx, inv.Args...)
	} else {
		err = x.Invoke(ctx, inv.Args...)
	}
	if err != nil {
		d.failed(inv, err)
		return err
	}

	if _, err := io.WriteString(w, action.Stringify(x.Result())); err != nil {
		return fmt.Errorf("%s: write result: %w", inv.Path, err)
	}
	d.log.Debug("action dispatched",
		logx.String("path", inv.Path),
		logx.String("type", desc.TypeName),
		logx.Int("args", len(inv.Args)),
		logx.Bool("direct", inv.Direct),
	)
	d.publish(eventbus.ActionDispatched, inv, nil)
	return nil
}

// BatchError reports a batch that stopped before its end. Its message is the
// message of the failure itself.
type BatchError struct {
	// Done is how many invocations completed before the failure.
	Done  int
	Total int
	Err   error
}

func (e *BatchError) Error() string { return e.Err.Error() }

func (e *BatchError) Unwrap() error { return e.Err }

// Skipped is how many invocations after the failing one never ran.
func (e *BatchError) Skipped() int { return max(e.Total-e.Done-1, 0) }

// DispatchAll runs invocations in order and stops at the first failure, which
// is returned as a *BatchError.
func (d *Dispatcher) DispatchAll(ctx context.Context, invs []Invocation, w io.Writer) error {
	for i, inv := range invs {
		err := ctx.Err()
		if err == nil {
			err = d.Dispatch(ctx, inv, w)
		}
		if err != nil {
			return &BatchError{Done: i, Total: len(invs), Err: err}
		}
	}
	return nil
}

// RunQuery runs a direct request. An empty action path does nothing.
func (d *Dispatcher) RunQuery(ctx context.Context, raw string, w io.Writer) error {
	inv := Query(raw)
	if inv.Path == "" {
		return nil
	}
	return d.Dispatch(ctx, inv, w)
}

// RunCommand runs positional process arguments; argv[0] is the program name.
//
// argv[1] is a logical path or EmailSentinel. For a path the remaining
// arguments are passed in order. For the sentinel a trigger sweep runs and the
// remaining arguments are appended to every entry.
func (d *Dispatcher) RunCommand(ctx context.Context, argv []string, w io.Writer) error {
	if len(argv) < 2 || argv[1] == "" {
		return nil
	}
	extra := make([]any, 0, len(argv)-2)
	for _, a := range argv[2:] {
		extra = append(extra, a)
	}

	if argv[1] != EmailSentinel {
		return d.Dispatch(ctx, Invocation{Path: argv[1], Args: extra}, w)
	}

	if d.sweeper == nil {
		return fmt.Errorf("%s: no trigger scheduler configured", EmailSentinel)
	}
	// A failed account does not discard entries built for the others.
	entries, sweepErr := d.sweeper.Sweep(ctx, d.now())
	if sweepErr != nil {
		d.log.Warn("trigger sweep incomplete", logx.Int("entries", len(entries)), logx.Err(sweepErr))
	}
	if err := d.RunTriggers(ctx, entries, extra, w); err != nil {
		return errors.Join(err, sweepErr)
	}
	return sweepErr
}

// RunTriggers prepares trigger entries with PrepareTriggers and dispatches them.
func (d *Dispatcher) RunTriggers(ctx context.Context, entries []Invocation, extra []any, w io.Writer) error {
	if len(entries) == 0 {
		return nil
	}
	err := d.DispatchAll(ctx, d.PrepareTriggers(entries, extra), w)
	var be *BatchError
	if errors.As(err, &be) && be.Skipped() > 0 {
		d.log.Warn("trigger entries not dispatched",
			logx.Int("done", be.Done),
			logx.Int("skipped", be.Skipped()),
			logx.Err(be.Err),
		)
	}
	return err
}

// PrepareTriggers applies alias registrations, prefixes the alias to each
// entry's path and appends extra to each entry's args.
func (d *Dispatcher) PrepareTriggers(entries []Invocation, extra []any) []Invocation {
	out := make([]Invocation, 0, len(entries))
	for _, e := range entries {
		inv := Invocation{Path: e.Path, Direct: false, RegisterPath: e.RegisterPath}
		if a := e.RegisterPath; a != nil {
			d.reg.RegisterPath(a.Alias, a.Path)
			inv.Path = a.Alias + "/" + e.Path
		}
		inv.Args = make([]any, 0, len(e.Args)+len(extra))
		inv.Args = append(inv.Args, e.Args...)
		inv.Args = append(inv.Args, extra...)
		out = append(out, inv)
	}
	return out
}

func (d *Dispatcher) failed(inv Invocation, err error) {
	d.log.Debug("action failed", logx.String("path", inv.Path), logx.Err(err))
	d.publish(eventbus.ActionFailed, inv, err)
}

type DispatchEvent struct {
	Path   string `json:"path"`
	Direct bool   `json:"direct"`
	Args   int    `json:"args"`
	Error  string `json:"error,omitempty"`
}

func (d *Dispatcher) publish(typ string, inv Invocation, err error) {
	if d.bus == nil {
		return
	}
	ev := DispatchEvent{Path: inv.Path, Direct: inv.Direct, Args: len(inv.Args)}
	if err != nil {
		ev.Error = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
