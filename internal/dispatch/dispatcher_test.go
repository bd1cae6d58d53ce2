package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"actionrunner/internal/action"
	"actionrunner/internal/action/builtin"
)

func TestParseQuery(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		raw      string
		wantPath string
		wantArgs []any
	}{
		{
			name:     "value keeps equals and dots",
			raw:      "action=Utils/RemoveNonAsciiChars&text=a.b=c",
			wantPath: "Utils/RemoveNonAsciiChars",
			wantArgs: []any{action.Param{Name: "text", Value: "a.b=c"}},
		},
		{
			name:     "keys are not mangled",
			raw:      "a.b=1&action=X&bare&c_d=2",
			wantPath: "X",
			wantArgs: []any{
				action.Param{Name: "a.b", Value: "1"},
				"bare",
				action.Param{Name: "c_d", Value: "2"},
			},
		},
		{
			name:     "unescape with raw fallback",
			raw:      "?action=Utils%2FEcho&t=caf%C3%A9+x&bad=%zz",
			wantPath: "Utils/Echo",
			wantArgs: []any{
				action.Param{Name: "t", Value: "café x"},
				action.Param{Name: "bad", Value: "%zz"},
			},
		},
		{name: "empty", raw: ""},
		{name: "no action", raw: "x=1", wantArgs: []any{action.Param{Name: "x", Value: "1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path, args := ParseQuery(tc.raw)
			if path != tc.wantPath {
				t.Fatalf("path = %q, want %q", path, tc.wantPath)
			}
			if !reflect.DeepEqual(args, tc.wantArgs) {
				t.Fatalf("args = %#v, want %#v", args, tc.wantArgs)
			}
		})
	}
}

type tallyState struct {
	direct bool
	args   []any
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *action.Registry, *tallyState) {
	t.Helper()

	reg := action.New(action.Options{DefaultRoot: builtin.Root(), DefaultRootName: builtin.RootName})
	builtin.Register(reg)

	state := &tallyState{}
	reg.Register("Test.Tally", func() action.Handler {
		return action.Streaming(func(_ context.Context, x *action.Execution) error {
			state.direct = x.IsDirectRequest()
			state.args = x.Args()
			x.SetResult(fmt.Sprintf("tally:%d", len(x.Args())))
			return nil
		})
	})
	reg.Register("Test.Fail", func() action.Handler {
		return action.Streaming(func(context.Context, *action.Execution) error {
			return errors.New("handler failed")
		})
	})
	return New(reg, Options{}), reg, state
}

func writeDef(t *testing.T, dir, name, handler string) {
	t.Helper()
	src := fmt.Sprintf("handler = %q\n", handler)
	if err := os.WriteFile(filepath.Join(dir, name+".hcl"), []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRunCommand(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	var out bytes.Buffer
	if err := d.RunCommand(context.Background(), []string{"prog", "Utils/RemoveNonAsciiChars", "café"}, &out); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if out.String() != "caf" {
		t.Fatalf("output = %q, want %q", out.String(), "caf")
	}
}

func TestRunCommandWithoutPathDoesNothing(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	var out bytes.Buffer
	for _, argv := range [][]string{nil, {"prog"}, {"prog", ""}} {
		if err := d.RunCommand(context.Background(), argv, &out); err != nil {
			t.Fatalf("RunCommand(%q): %v", argv, err)
		}
	}
	if out.Len() != 0 {
		t.Fatalf("output = %q", out.String())
	}
}

func TestDispatchNotStreamable(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	var out bytes.Buffer
	err := d.RunCommand(context.Background(), []string{"prog", "Debug/Describe"}, &out)
	if !errors.Is(err, action.ErrNotStreamable) {
		t.Fatalf("err = %v, want ErrNotStreamable", err)
	}
	if out.Len() != 0 {
		t.Fatalf("non-streamable wrote %q", out.String())
	}
}

func TestDispatchNotFound(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	err := d.RunCommand(context.Background(), []string{"prog", "Utils/Missing"}, &bytes.Buffer{})
	if !errors.Is(err, action.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunQuerySetsDirectFlag(t *testing.T) {
	t.Parallel()
	d, reg, state := newTestDispatcher(t)

	dir := t.TempDir()
	writeDef(t, dir, "Tally", "Test.Tally")
	reg.RegisterPath("t", dir)

	var out bytes.Buffer
	if err := d.RunQuery(context.Background(), "action=t/Tally&x=1&bare", &out); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if out.String() != "tally:2" || !state.direct {
		t.Fatalf("out=%q direct=%v", out.String(), state.direct)
	}

	if err := d.RunCommand(context.Background(), []string{"prog", "t/Tally"}, &out); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if state.direct {
		t.Fatalf("command shape must not set the direct flag")
	}
}

type fakeSweeper struct {
	entries []Invocation
	err     error
	at      time.Time
}

func (f *fakeSweeper) Sweep(_ context.Context, now time.Time) ([]Invocation, error) {
	f.at = now
	return f.entries, f.err
}

func TestRunCommandEmailSentinel(t *testing.T) {
	t.Parallel()
	d, reg, state := newTestDispatcher(t)

	dir := t.TempDir()
	writeDef(t, dir, "Tally", "Test.Tally")

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	sw := &fakeSweeper{entries: []Invocation{
		{Path: "Tally", Args: []any{"overview", "body"}, RegisterPath: &Alias{Alias: "mail", Path: dir}},
		{Path: "Utils/RemoveNonAsciiChars", Args: []any{"é1"}},
	}}
	d.SetSweeper(sw)

	var out bytes.Buffer
	if err := d.RunCommand(context.Background(), []string{"prog", EmailSentinel, "extra"}, &out); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !sw.at.Equal(now) {
		t.Fatalf("sweep time = %v", sw.at)
	}
	if got := reg.Aliases()["mail"]; got != dir {
		t.Fatalf("alias not registered: %q", got)
	}
	if !reflect.DeepEqual(state.args, []any{"overview", "body", "extra"}) {
		t.Fatalf("tally args = %#v", state.args)
	}
	if out.String() != "tally:31" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunTriggersStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	d, reg, _ := newTestDispatcher(t)

	dir := t.TempDir()
	writeDef(t, dir, "Fail", "Test.Fail")
	reg.RegisterPath("t", dir)

	entries := []Invocation{
		{Path: "Utils/RemoveNonAsciiChars", Args: []any{"ok"}},
		{Path: "t/Fail"},
		{Path: "Utils/RemoveNonAsciiChars", Args: []any{"never"}},
	}
	var out bytes.Buffer
	err := d.RunTriggers(context.Background(), entries, nil, &out)
	if err == nil || err.Error() != "handler failed" {
		t.Fatalf("err = %v", err)
	}
	var be *BatchError
	if !errors.As(err, &be) || be.Done != 1 || be.Total != 3 || be.Skipped() != 1 {
		t.Fatalf("batch error = %+v", be)
	}
	if out.String() != "ok" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunCommandEmailSweepError(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	boom := errors.New("sweep failed")
	d.SetSweeper(&fakeSweeper{err: boom})
	if err := d.RunCommand(context.Background(), []string{"prog", EmailSentinel}, &bytes.Buffer{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	d.SetSweeper(nil)
	if err := d.RunCommand(context.Background(), []string{"prog", EmailSentinel}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without a sweeper")
	}
}
