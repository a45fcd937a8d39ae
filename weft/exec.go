package weft

import (
	"context"
	"fmt"

	"weft.sh/weft/core/weft/graph"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/workflow"
)

// execute drives one run on a queue worker: job statuses are written to
// the db as the scheduler reports them, then the run is settled from the
// aggregate of its job results.
func (s *Weft) execute(runId models.RunId, cw workflow.CompiledWorkflow, event workflow.Event) error {
	ctx := s.ctx

	if err := s.db.MarkRunRunning(runId, s.n); err != nil {
		return err
	}

	sched := graph.NewScheduler(ctx, s.runner(event),
		graph.WithDefaultTimeout(s.cfg.Runs.JobTimeout),
		graph.WithJobStarted(func(ctx context.Context, jid models.JobId) {
			if err := s.db.MarkJobRunning(jid, s.n); err != nil {
				s.l.Error("failed to mark job running", "job", jid, "err", err)
			}
		}),
		graph.WithJobFinished(func(ctx context.Context, res models.JobResult) {
			var err error
			switch res.Status {
			case models.JobSucceeded:
				err = s.db.MarkJobSucceeded(res.Job, s.n)
			case models.JobSkipped:
				err = s.db.MarkJobSkipped(res.Job, s.n)
			case models.JobCancelled:
				err = s.db.MarkJobCancelled(res.Job, s.n)
			default:
				err = s.db.MarkJobFailed(res.Job, res.ExitCode, res.FailedStepName, res.Error, s.n)
			}
			if err != nil {
				s.l.Error("failed to record job status", "job", res.Job, "err", err)
			}
		}),
	)

	results := sched.Execute(ctx, runId, cw)

	// artifacts are scoped to the run, reclaim them now that no job can
	// consume them anymore
	if err := s.store.Destroy(context.WithoutCancel(ctx), runId); err != nil {
		s.l.Error("failed to destroy run artifacts", "run", runId, "err", err)
	}

	switch graph.Aggregate(results) {
	case models.RunFailed:
		msg := firstFailure(cw.Order, results)
		s.l.Error("run failed", "run", runId, "workflow", cw.Name, "error", msg)
		return s.db.MarkRunFailed(runId, msg, s.n)
	case models.RunCancelled:
		s.l.Info("run cancelled", "run", runId, "workflow", cw.Name)
		return s.db.MarkRunCancelled(runId, s.n)
	default:
		s.l.Info("run succeeded", "run", runId, "workflow", cw.Name)
		return s.db.MarkRunSuccess(runId, s.n)
	}
}

// firstFailure picks the failure message of the earliest failed job in
// topological order, which is the root cause of the cascade.
func firstFailure(order []string, results map[string]models.JobResult) string {
	for _, name := range order {
		res, ok := results[name]
		if !ok || res.Status != models.JobFailed {
			continue
		}
		if res.Error != "" {
			return fmt.Sprintf("job %s: %s", name, res.Error)
		}
		return fmt.Sprintf("job %s failed with exit code %d", name, res.ExitCode)
	}
	return "run failed"
}
