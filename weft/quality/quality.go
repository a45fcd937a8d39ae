// Package quality asks an external analysis service whether a commit
// meets the configured quality bar. The service being down is not a
// verdict: unreachable analyses come back indeterminate and the gate
// passes with a warning rather than failing the run.
package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"

	"weft.sh/weft/core/log"
	"weft.sh/weft/core/weft/config"
	"weft.sh/weft/core/workflow"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Finding struct {
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the gate's verdict for one commit. Indeterminate reports
// carry no verdict at all, Passed is meaningless when it is set.
type Report struct {
	Passed        bool      `json:"passed"`
	Indeterminate bool      `json:"indeterminate"`
	Findings      []Finding `json:"findings,omitempty"`
}

// Annotator posts a gate verdict back to the change request that
// triggered the run.
type Annotator interface {
	Annotate(ctx context.Context, event workflow.Event, report Report) error
}

type Client struct {
	base    string
	project string
	http    *http.Client
	l       *slog.Logger
}

func NewClient(ctx context.Context, cfg config.Quality) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("quality gate requires a service url")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid quality service url: %w", err)
	}

	return &Client{
		base:    cfg.URL,
		project: cfg.Project,
		http:    &http.Client{Timeout: 30 * time.Second},
		l:       log.FromContext(ctx).With("component", "quality"),
	}, nil
}

// Check fetches the analysis verdict for a commit. Transient service
// failures are retried a few times; if the service stays unreachable
// the report is indeterminate, not failed.
func (c *Client) Check(ctx context.Context, token, sha string) (Report, error) {
	var report Report

	retryOpts := []retry.Option{
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500 * time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			c.l.Info("retrying analysis fetch", "sha", sha, "attempt", n+1, "err", err)
		}),
		retry.Context(ctx),
	}

	err := retry.Do(func() error {
		r, err := c.fetch(ctx, token, sha)
		if err != nil {
			return err
		}
		report = r
		return nil
	}, retryOpts...)

	if err != nil {
		c.l.Warn("analysis service unreachable, gate is indeterminate", "sha", sha, "err", err)
		return Report{Indeterminate: true}, nil
	}

	return report, nil
}

func (c *Client) fetch(ctx context.Context, token, sha string) (Report, error) {
	var report Report

	u := fmt.Sprintf("%s/api/analyses?project=%s&sha=%s", c.base, url.QueryEscape(c.project), url.QueryEscape(sha))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return report, retry.Unrecoverable(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return report, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return report, retry.Unrecoverable(fmt.Errorf("analysis service rejected token: %s", resp.Status))
	default:
		return report, fmt.Errorf("analysis service returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("decoding analysis report: %w", err)
	}

	return report, nil
}

// HTTPAnnotator posts verdicts to a forge's change request API.
type HTTPAnnotator struct {
	base  string
	token string
	http  *http.Client
}

func NewHTTPAnnotator(base, token string) *HTTPAnnotator {
	return &HTTPAnnotator{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *HTTPAnnotator) Annotate(ctx context.Context, event workflow.Event, report Report) error {
	if !event.IsPullRequest() {
		return nil
	}

	body, err := json.Marshal(struct {
		Sha      string    `json:"sha"`
		Passed   bool      `json:"passed"`
		Pending  bool      `json:"pending"`
		Findings []Finding `json:"findings,omitempty"`
	}{
		Sha:      event.Sha,
		Passed:   report.Passed,
		Pending:  report.Indeterminate,
		Findings: report.Findings,
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/api/repos/%s/changes/%d/checks", a.base, event.Repo, event.ChangeRequest)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("posting check failed: %s", resp.Status)
	}
	return nil
}
