package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"actionrunner/internal/action"
	"actionrunner/pkg/logx"
)

type fakeRecords []action.Record

func (f fakeRecords) Records(_ context.Context, n int) ([]action.Record, error) {
	if f == nil {
		return nil, errors.New("store offline")
	}
	if n <= 0 || n > len(f) {
		n = len(f)
	}
	return f[:n], nil
}

func echoRunner() Runner {
	return RunnerFunc(func(_ context.Context, raw string, w io.Writer) error {
		switch {
		case strings.Contains(raw, "missing"):
			return &action.NotFoundError{Path: "missing.hcl"}
		case strings.Contains(raw, "plain"):
			return action.NotStreamable("plain")
		case strings.Contains(raw, "boom"):
			return errors.New("boom")
		}
		_, err := fmt.Fprintf(w, "ran:%s", raw)
		return err
	})
}

func newTestServer(debug bool, limiter *clientLimiter) *httptest.Server {
	return newTestServerWith(debug, limiter, fakeRecords{{ID: "a"}, {ID: "b"}})
}

func newTestServerWith(debug bool, limiter *clientLimiter, recs fakeRecords) *httptest.Server {
	s := New(Config{}, Deps{
		Runner:  echoRunner(),
		Records: recs,
		Debug:   func() bool { return debug },
		Health:  func() any { return map[string]int{"tasks": 2} },
	}, logx.Nop())
	return httptest.NewServer(s.handler(limiter))
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestRunStatuses(t *testing.T) {
	t.Parallel()

	ts := newTestServer(false, nil)
	defer ts.Close()

	cases := []struct {
		path string
		code int
		body string
	}{
		{"/?action=Utils/Echo&x", http.StatusOK, "ran:action=Utils/Echo&x"},
		{"/run?action=Utils/Echo", http.StatusOK, "ran:action=Utils/Echo"},
		{"/?action=missing", http.StatusNotFound, "action file missing.hcl not found"},
		{"/?action=plain", http.StatusUnprocessableEntity, ""},
		{"/?action=boom", http.StatusInternalServerError, "boom"},
	}
	for _, tc := range cases {
		code, body := get(t, ts.URL+tc.path)
		if code != tc.code {
			t.Errorf("%s: status = %d, want %d (%s)", tc.path, code, tc.code, body)
		}
		if tc.body != "" && body != tc.body {
			t.Errorf("%s: body = %q, want %q", tc.path, body, tc.body)
		}
	}

	resp, err := http.Post(ts.URL+"/run?action=Utils/Echo", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(false, nil)
	defer ts.Close()

	code, body := get(t, ts.URL+"/healthz")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got struct {
		Status  string         `json:"status"`
		Runtime map[string]int `json:"runtime"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Runtime["tasks"] != 2 {
		t.Fatalf("health = %+v", got)
	}
}

func TestRecordsOnlyInDebug(t *testing.T) {
	t.Parallel()

	off := newTestServer(false, nil)
	defer off.Close()
	if code, _ := get(t, off.URL+"/records"); code != http.StatusNotFound {
		t.Fatalf("records without debug = %d", code)
	}

	on := newTestServer(true, nil)
	defer on.Close()
	code, body := get(t, on.URL+"/records?n=1")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var recs []action.Record
	if err := json.Unmarshal([]byte(body), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Fatalf("records = %+v", recs)
	}

	broken := newTestServerWith(true, nil, nil)
	defer broken.Close()
	if code, body := get(t, broken.URL+"/records"); code != http.StatusInternalServerError || body != "store offline" {
		t.Fatalf("broken store = %d %q", code, body)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(false, newClientLimiter(0.001, 2))
	defer ts.Close()

	for i := 0; i < 2; i++ {
		if code, _ := get(t, ts.URL+"/?action=Utils/Echo"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code, _ := get(t, ts.URL+"/?action=Utils/Echo"); code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", code)
	}
	if code, _ := get(t, ts.URL+"/healthz"); code != http.StatusOK {
		t.Fatalf("healthz is not rate limited, got %d", code)
	}
}

func TestClientLimiterSweep(t *testing.T) {
	t.Parallel()

	l := newClientLimiter(1, 1)
	now := time.Now()
	l.allow("a", now)
	l.allow("b", now.Add(time.Hour))
	l.sweep(now.Add(time.Hour))
	if l.len() != 1 {
		t.Fatalf("len = %d", l.len())
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Runner: echoRunner()}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("not listening")
	}
	if code, body := get(t, "http://"+addr+"/?action=x"); code != http.StatusOK || body != "ran:action=x" {
		t.Fatalf("live request = %d %q", code, body)
	}

	if err := s.Apply(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Addr() != "" || s.Enabled() {
		t.Fatalf("server still running")
	}
}
