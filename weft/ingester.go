package weft

import (
	"encoding/json"
	"net/http"

	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/weft/queue"
	"weft.sh/weft/core/workflow"
)

// EventPayload is what a forge posts to /events: the event itself plus
// the workflow files of the repository at the event's commit.
type EventPayload struct {
	Event     workflow.Event `json:"event"`
	Workflows []RawFile      `json:"workflows"`
}

type RawFile struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

type RunRef struct {
	Id       models.RunId `json:"id"`
	Workflow string       `json:"workflow"`
}

type IngestResponse struct {
	Runs     []RunRef `json:"runs"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Ingest compiles the posted workflows against the event and enqueues a
// run per matching workflow. Workflows whose trigger rejects the event
// come back as warnings, broken ones as errors; neither produces a run.
func (s *Weft) Ingest(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Ingest")

	var payload EventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed event payload", http.StatusBadRequest)
		return
	}
	if payload.Event.Repo == "" {
		http.Error(w, "event has no repo", http.StatusBadRequest)
		return
	}

	raw := make([]workflow.RawWorkflow, 0, len(payload.Workflows))
	for _, f := range payload.Workflows {
		raw = append(raw, workflow.RawWorkflow{Name: f.Name, Contents: []byte(f.Contents)})
	}

	compiler := workflow.Compiler{
		Event:    payload.Event,
		Registry: s.reg,
	}
	plan := compiler.Compile(compiler.Parse(raw))

	var resp IngestResponse
	for _, e := range compiler.Diagnostics.Errors {
		resp.Errors = append(resp.Errors, e.String())
	}
	for _, warning := range compiler.Diagnostics.Warnings {
		resp.Warnings = append(resp.Warnings, warning.String())
	}

	for _, cw := range plan.Workflows {
		runId := models.NewRunId()

		err := s.db.CreateRun(runId, payload.Event.Repo, cw.Name, payload.Event.Kind, payload.Event.Ref, s.n)
		if err != nil {
			l.Error("failed to create run", "workflow", cw.Name, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, name := range cw.Order {
			if err := s.db.JobPending(models.JobId{Run: runId, Name: name}, s.n); err != nil {
				l.Error("failed to create job", "run", runId, "job", name, "err", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		ok := s.jq.Enqueue(queue.Job{
			Run: func() error {
				return s.execute(runId, cw, payload.Event)
			},
			OnFail: func(jobError error) {
				l.Error("run failed", "run", runId, "error", jobError)
			},
		})
		if !ok {
			l.Error("failed to enqueue run: queue is full", "run", runId)
			if err := s.db.MarkRunFailed(runId, "server queue is full", s.n); err != nil {
				l.Error("failed to mark run failed", "run", runId, "err", err)
			}
			continue
		}

		l.Info("run enqueued", "run", runId, "workflow", cw.Name)
		resp.Runs = append(resp.Runs, RunRef{Id: runId, Workflow: cw.Name})
	}

	status := http.StatusAccepted
	if len(resp.Runs) == 0 {
		status = http.StatusOK
		if len(resp.Errors) > 0 {
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, resp)
}
