package quality

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(base string) *Client {
	return &Client{
		base:    base,
		project: "alice/widgets",
		http:    &http.Client{Timeout: 5 * time.Second},
		l:       slog.Default(),
	}
}

func TestCheckPassed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("project"); got != "alice/widgets" {
			t.Errorf("unexpected project %q", got)
		}
		if got := r.URL.Query().Get("sha"); got != "abc123" {
			t.Errorf("unexpected sha %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(Report{Passed: true})
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).Check(context.Background(), "tok", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed || report.Indeterminate {
		t.Errorf("expected a passing report, got %+v", report)
	}
}

func TestCheckFailedWithFindings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Report{
			Passed: false,
			Findings: []Finding{
				{Path: "main.go", Line: 42, Severity: SeverityError, Message: "unchecked error"},
			},
		})
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).Check(context.Background(), "tok", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed || report.Indeterminate {
		t.Errorf("expected a failing report, got %+v", report)
	}
	if len(report.Findings) != 1 || report.Findings[0].Path != "main.go" {
		t.Errorf("findings not carried through: %+v", report.Findings)
	}
}

func TestCheckUnavailableIsIndeterminate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).Check(context.Background(), "tok", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Indeterminate {
		t.Errorf("expected indeterminate report, got %+v", report)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestCheckRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Report{Passed: true})
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).Check(context.Background(), "tok", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed || report.Indeterminate {
		t.Errorf("expected recovery to a passing report, got %+v", report)
	}
}

func TestCheckBadTokenDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).Check(context.Background(), "bad", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Indeterminate {
		t.Errorf("expected indeterminate report, got %+v", report)
	}
	if calls.Load() != 1 {
		t.Errorf("auth failures must not be retried, got %d attempts", calls.Load())
	}
}
