package trigger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"actionrunner/internal/dispatch"
	"actionrunner/pkg/logx"
)

type recordingRunner struct {
	entries []dispatch.Invocation
	calls   int
	fail    error
}

func (r *recordingRunner) RunTriggers(_ context.Context, entries []dispatch.Invocation, extra []any, w io.Writer) error {
	r.calls++
	r.entries = append(r.entries, entries...)
	if r.fail != nil {
		return r.fail
	}
	_, err := io.WriteString(w, "ran")
	return err
}

func TestServiceRunPass(t *testing.T) {
	t.Parallel()

	box := newFakeMailbox(fakeMessage{from: "a@x", subject: "go", body: "b"})
	s := newScanner(t, &fakeDialer{boxes: map[string]*fakeMailbox{"main": box}},
		Trigger{Name: "Go", Check: "* * * * *", Account: "main", Subjects: []string{"go"}})

	runner := &recordingRunner{}
	var out bytes.Buffer
	svc := NewService(Config{Enabled: true}, s, runner, &out, logx.Nop())
	svc.now = func() time.Time { return monday10 }

	svc.RunPass(context.Background())
	if runner.calls != 1 || len(runner.entries) != 1 || runner.entries[0].Path != "Go" {
		t.Fatalf("runner = %+v", runner)
	}
	if out.String() != "ran" {
		t.Fatalf("out = %q", out.String())
	}

	svc.RunPass(context.Background())
	if runner.calls != 1 {
		t.Fatalf("second pass found deleted message again")
	}
}

func TestServiceLogsLostEntries(t *testing.T) {
	t.Parallel()

	box := newFakeMailbox(
		fakeMessage{from: "a@x", subject: "go 1"},
		fakeMessage{from: "a@x", subject: "go 2"},
		fakeMessage{from: "a@x", subject: "go 3"},
		fakeMessage{from: "a@x", subject: "go 4"},
	)
	s := newScanner(t, &fakeDialer{boxes: map[string]*fakeMailbox{"main": box}},
		Trigger{Name: "Go", Check: "* * * * *", Account: "main", Subjects: []string{"go"}})

	runner := &recordingRunner{fail: &dispatch.BatchError{Done: 1, Total: 4, Err: errors.New("handler failed")}}
	var logs bytes.Buffer
	svc := NewService(Config{Enabled: true}, s, runner, nil, logx.NewWriter(&logs, "debug"))
	svc.now = func() time.Time { return monday10 }

	svc.RunPass(context.Background())
	if len(box.msgs) != 0 {
		t.Fatalf("messages left = %d", len(box.msgs))
	}
	out := logs.String()
	if !strings.Contains(out, `"dispatched":1`) || !strings.Contains(out, `"lost":2`) {
		t.Fatalf("logs = %s", out)
	}
	if !strings.Contains(out, `"due":["Go"]`) {
		t.Fatalf("due triggers not logged: %s", out)
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()

	s := newScanner(t, &fakeDialer{})
	svc := NewService(Config{Enabled: false, Poll: "@every 1h"}, s, &recordingRunner{}, nil, logx.Nop())

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if svc.Enabled() {
		t.Fatalf("Enabled = true")
	}

	if err := svc.Apply(Config{Enabled: true, Poll: "@every 1h"}); err != nil {
		t.Fatalf("Apply enable: %v", err)
	}
	if err := svc.Apply(Config{Enabled: true, Poll: "30m"}); err != nil {
		t.Fatalf("Apply poll change: %v", err)
	}
	if err := svc.Apply(Config{Enabled: true, Poll: "bogus poll"}); err == nil {
		t.Fatalf("expected error for invalid poll")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	svc.Stop(stopCtx)
}
