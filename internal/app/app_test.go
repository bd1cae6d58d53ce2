package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"actionrunner/internal/action"
	"actionrunner/internal/config"
	"actionrunner/internal/mailbox"
)

type oneMessageBox struct {
	from, subject string
	deleted       []uint32
}

func (m *oneMessageBox) Count(context.Context) (int, error)             { return 1, nil }
func (m *oneMessageBox) SearchUnseen(context.Context) ([]uint32, error) { return []uint32{1}, nil }
func (m *oneMessageBox) Overview(_ context.Context, seq uint32) (mailbox.Overview, error) {
	return mailbox.Overview{Seq: seq, From: m.from, Subject: m.subject}, nil
}
func (m *oneMessageBox) Body(context.Context, uint32) (string, error) { return "body", nil }
func (m *oneMessageBox) Structure(context.Context, uint32) (mailbox.Structure, error) {
	return mailbox.Structure{Type: "text", Subtype: "plain"}, nil
}
func (m *oneMessageBox) Delete(_ context.Context, seq uint32) error {
	m.deleted = append(m.deleted, seq)
	return nil
}
func (m *oneMessageBox) Close(context.Context, bool) error { return nil }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// registerReport adds a streamable handler that prints the subject groups and
// trailing arguments of a trigger entry.
func registerReport(reg *action.Registry) {
	reg.Register("Actions.Mail.Report", func() action.Handler {
		return action.Streaming(func(_ context.Context, x *action.Execution) error {
			args := x.Args()
			parts := []string{"report"}
			if len(args) > 3 {
				if groups, ok := args[3].([]string); ok {
					parts = append(parts, strings.Join(groups, ""))
				}
			}
			for _, a := range args[min(4, len(args)):] {
				parts = append(parts, action.Stringify(a))
			}
			x.SetResult(strings.Join(parts, ":"))
			return nil
		})
	})
}

func newTestApp(t *testing.T, extra string, box *oneMessageBox) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "actions")
	writeFile(t, filepath.Join(root, "Mail", "Report.hcl"), "handler = \"Actions.Mail.Report\"\n")

	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, fmt.Sprintf(`{
  "logging":  {"level": "error", "console": true},
  "accounts": {"main": {"server": "imap.invalid:993", "user": "u", "password": "p", "tls": true}},
  "actions":  [{"name": "Mail/Report", "check": "* * * * *", "account": "main",
                "registerPath": {"alias": "t", "path": %q},
                "email": {"fromRegexp": "reports@", "subjectRegexp": ["Report Q(\\d) (\\d+)"]}}]
  %s
}`, root, extra))

	var out bytes.Buffer
	a, err := New(Options{
		ConfigPath: cfgPath,
		Stdout:     &out,
		Register:   registerReport,
		Dialer: mailbox.DialFunc(func(context.Context, string, mailbox.Account) (mailbox.Mailbox, error) {
			return box, nil
		}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, &out
}

func TestCommandModeBuiltinWithoutConfig(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	a, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "absent.json"), Stdout: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if err := a.RunCommand(context.Background(), []string{"prog", "Utils/RemoveNonAsciiChars", "café"}); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if out.String() != "caf" {
		t.Fatalf("output = %q", out.String())
	}

	out.Reset()
	if err := a.RunQuery(context.Background(), "action=Utils/Echo&a&b&sep=-"); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if out.String() != "a-b" {
		t.Fatalf("query output = %q", out.String())
	}

	if err := a.RunCommand(context.Background(), []string{"prog", "Nope/Missing"}); err == nil {
		t.Fatalf("expected not found")
	}
}

func TestStreamURLs(t *testing.T) {
	t.Parallel()

	a, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "absent.json")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	r, err := a.Open(context.Background(), "action://Utils/Echo?x&y")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(r)
	if string(b) != "x y" {
		t.Fatalf("stream = %q", b)
	}

	if _, err := a.Open(context.Background(), "action://Debug/Describe"); err == nil {
		t.Fatalf("non-streamable action opened")
	}

	resp, err := a.HTTPClient().Get("action://Utils/RemoveNonAsciiChars?caf%C3%A9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "caf" {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}
}

func TestEmailSentinelRunsTriggers(t *testing.T) {
	t.Parallel()

	box := &oneMessageBox{from: "reports@example.com", subject: "Report   Q3  2024"}
	a, out := newTestApp(t, "", box)
	defer a.Close()

	if err := a.RunCommand(context.Background(), []string{"prog", "__email__", "tail"}); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if out.String() != "report:32024:tail" {
		t.Fatalf("output = %q", out.String())
	}
	if len(box.deleted) != 1 || box.deleted[0] != 1 {
		t.Fatalf("deleted = %v", box.deleted)
	}
}

func sqliteStorage(t *testing.T) string {
	return fmt.Sprintf(`, "storage": {"driver": "sqlite", "path": %q}`, filepath.Join(t.TempDir(), "rec.db"))
}

func TestStoredRecordsOutliveProcess(t *testing.T) {
	t.Parallel()

	storage := sqliteStorage(t)
	first, _ := newTestApp(t, storage, &oneMessageBox{})
	first.Registry().SetDebug(true)
	if err := first.RunQuery(context.Background(), "action=Utils/Echo&x"); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	recs := first.Journal().Records(0)
	if len(recs) != 1 || recs[0].TypeName != "Actions.Utils.Echo" || !recs[0].Direct {
		t.Fatalf("journal = %+v", recs)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, _ := newTestApp(t, storage, &oneMessageBox{})
	defer second.Close()
	if n := second.Journal().Len(); n != 0 {
		t.Fatalf("fresh journal holds %d records", n)
	}
	stored, err := second.Records(context.Background(), 0)
	if err != nil || len(stored) != 1 || stored[0].ID != recs[0].ID {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestRecordsWithoutStoreUseJournal(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, "", &oneMessageBox{})
	defer a.Close()
	a.Registry().SetDebug(true)
	if err := a.RunQuery(context.Background(), "action=Utils/Echo&x"); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	recs, err := a.Records(context.Background(), 5)
	if err != nil || len(recs) != 1 {
		t.Fatalf("records = %+v, %v", recs, err)
	}
}

func TestValidateRejectsBadTriggers(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Accounts = map[string]config.AccountConfig{"main": {Server: "s"}}
	cfg.Actions = []config.ActionConfig{{
		Name: "A", Check: "not a cron", Account: "main",
		Email: config.EmailConfig{FromRegexp: "(", SubjectRegexp: config.StringOrList{"x"}},
	}}
	err := validate(cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "check") || !strings.Contains(err.Error(), "actions[0]") {
		t.Fatalf("err = %v", err)
	}

	cfg = config.Defaults()
	cfg.Scheduler.Poll = "whenever"
	if err := validate(cfg); err == nil {
		t.Fatalf("bad poll accepted")
	}
}

func TestApplyReload(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, "", &oneMessageBox{})
	defer a.Close()

	next := *a.applied
	next.Registry.Debug = true
	next.Registry.Paths = map[string]string{"ext": t.TempDir()}
	a.apply(context.Background(), &next)

	if !a.Registry().Debug() {
		t.Fatalf("debug not applied")
	}
	if a.Registry().Aliases()["ext"] == "" {
		t.Fatalf("alias not registered: %v", a.Registry().Aliases())
	}

	again := next
	again.Registry.Paths = nil
	a.apply(context.Background(), &again)
	if _, ok := a.Registry().Aliases()["ext"]; ok {
		t.Fatalf("alias not removed")
	}
}

func TestDaemonServesHTTP(t *testing.T) {
	t.Parallel()

	storage := sqliteStorage(t)
	earlier, _ := newTestApp(t, storage, &oneMessageBox{})
	earlier.Registry().SetDebug(true)
	if err := earlier.RunQuery(context.Background(), "action=Utils/Echo&before"); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	earlier.Close()

	a, _ := newTestApp(t, `, "http": {"enabled": true, "addr": "127.0.0.1:0"}, "scheduler": {"enabled": false}, "registry": {"debug": true}`+storage, &oneMessageBox{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := "http://" + a.web.Addr()

	var recs []action.Record
	getJSON(t, base+"/records", &recs)
	if len(recs) != 1 || len(recs[0].Args) != 1 || recs[0].Args[0] != "before" {
		t.Fatalf("records = %+v", recs)
	}

	var health struct {
		Status  string `json:"status"`
		Runtime struct {
			Triggers     int      `json:"triggers"`
			HandlerTypes []string `json:"handler_types"`
			Debug        bool     `json:"debug"`
		} `json:"runtime"`
	}
	getJSON(t, base+"/healthz", &health)
	if health.Status != "ok" || health.Runtime.Triggers != 1 || !health.Runtime.Debug ||
		!slices.Contains(health.Runtime.HandlerTypes, "Actions.Mail.Report") {
		t.Fatalf("health = %+v", health)
	}

	resp, err := http.Get(base + "/run?action=Utils/RemoveNonAsciiChars&text=a.b=c%C3%A9")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "a.b=c" {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("supervisor context not canceled")
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s = %d %q", url, resp.StatusCode, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
