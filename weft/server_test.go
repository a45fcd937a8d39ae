package weft

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"weft.sh/weft/core/notifier"
	"weft.sh/weft/core/weft/artifact"
	"weft.sh/weft/core/weft/config"
	"weft.sh/weft/core/weft/db"
	"weft.sh/weft/core/weft/graph"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/weft/queue"
	"weft.sh/weft/core/workflow"
)

// the queue is never started, so enqueued runs stay pending and the
// handlers can be exercised without an engine behind them
func newTestWeft(t *testing.T) *Weft {
	t.Helper()

	d, err := db.Make(filepath.Join(t.TempDir(), "weft.db"))
	require.NoError(t, err)

	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	n := notifier.New()

	return &Weft{
		db:    d,
		l:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		n:     &n,
		store: store,
		jq:    queue.NewQueue(4, 1),
		cfg: &config.Config{
			Server: config.Server{Owner: "ada"},
			Runs:   config.Runs{LogDir: t.TempDir()},
		},
		reg: BuiltinRegistry(),
		ctx: context.Background(),
	}
}

func postEvent(t *testing.T, srv *httptest.Server, payload EventPayload) (*http.Response, IngestResponse) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func pushEvent() workflow.Event {
	return workflow.Event{
		Kind:          workflow.EventKindPush,
		Repo:          "ada/site",
		Ref:           "refs/heads/main",
		Sha:           "deadbeef",
		CommitMessage: "update",
	}
}

const buildWorkflow = `
on:
  branches: [main]
jobs:
  build:
    steps:
      - command: make build
`

func TestIngestCreatesRun(t *testing.T) {
	s := newTestWeft(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, out := postEvent(t, srv, EventPayload{
		Event:     pushEvent(),
		Workflows: []RawFile{{Name: "build.yml", Contents: buildWorkflow}},
	})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, "build.yml", out.Runs[0].Workflow)
	assert.Empty(t, out.Errors)

	run, err := s.db.GetRun(out.Runs[0].Id)
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, run.Status)
	assert.Equal(t, "ada/site", run.Repo)

	jobs, err := s.db.GetJobs(out.Runs[0].Id)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "build", jobs[0].Name)
	assert.Equal(t, models.JobPending, jobs[0].Status)
}

func TestIngestRejectedTrigger(t *testing.T) {
	s := newTestWeft(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	event := pushEvent()
	event.Ref = "refs/heads/experiment"

	resp, out := postEvent(t, srv, EventPayload{
		Event:     event,
		Workflows: []RawFile{{Name: "build.yml", Contents: buildWorkflow}},
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, out.Runs)
	assert.NotEmpty(t, out.Warnings)
}

func TestIngestBrokenWorkflow(t *testing.T) {
	s := newTestWeft(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, out := postEvent(t, srv, EventPayload{
		Event:     pushEvent(),
		Workflows: []RawFile{{Name: "broken.yml", Contents: "jobs: [not, a, map]"}},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, out.Runs)
	assert.NotEmpty(t, out.Errors)
}

func TestIngestMalformedPayload(t *testing.T) {
	s := newTestWeft(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type stubRunner struct {
	status models.JobStatus
}

func (s stubRunner) RunJob(ctx context.Context, run models.RunId, job workflow.CompiledJob) models.JobResult {
	return models.JobResult{Status: s.status}
}

func TestExecuteDestroysArtifacts(t *testing.T) {
	s := newTestWeft(t)
	s.runner = func(workflow.Event) graph.Runner {
		return stubRunner{status: models.JobSucceeded}
	}

	runId := models.NewRunId()
	require.NoError(t, s.db.CreateRun(runId, "ada/site", "build.yml", workflow.EventKindPush, "refs/heads/main", s.n))
	require.NoError(t, s.db.JobPending(models.JobId{Run: runId, Name: "build"}, s.n))

	require.NoError(t, s.store.Put(context.Background(), runId, "site", bytes.NewReader([]byte("dist"))))

	cw := workflow.CompiledWorkflow{
		Name:  "build.yml",
		Jobs:  map[string]workflow.CompiledJob{"build": {Name: "build"}},
		Order: []string{"build"},
	}
	require.NoError(t, s.execute(runId, cw, pushEvent()))

	run, err := s.db.GetRun(runId)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)

	// run artifacts do not outlive the run
	_, err = s.store.Get(context.Background(), runId, "site")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestRunStatusNotFound(t *testing.T) {
	s := newTestWeft(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/no-such-run")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOwner(t *testing.T) {
	s := newTestWeft(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/owner")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ada", string(body))
}
