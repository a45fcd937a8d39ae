// Package graph drives one compiled workflow to completion, launching
// jobs as their dependencies succeed and propagating skips through the
// dependents of anything that does not.
package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"weft.sh/weft/core/log"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/workflow"
)

// Runner executes a single job to a terminal result. The context it
// receives carries the job's deadline, a result is expected even on
// cancellation.
type Runner interface {
	RunJob(ctx context.Context, run models.RunId, job workflow.CompiledJob) models.JobResult
}

type Scheduler struct {
	runner Runner
	l      *slog.Logger

	defaultTimeout time.Duration

	onStart func(ctx context.Context, job models.JobId)
	onDone  func(ctx context.Context, result models.JobResult)
}

type SchedulerOpt func(*Scheduler)

// WithDefaultTimeout bounds jobs that declare no wall-clock budget of
// their own.
func WithDefaultTimeout(d time.Duration) SchedulerOpt {
	return func(s *Scheduler) {
		s.defaultTimeout = d
	}
}

// WithJobStarted registers a callback invoked just before a job's
// runner is launched.
func WithJobStarted(fn func(ctx context.Context, job models.JobId)) SchedulerOpt {
	return func(s *Scheduler) {
		s.onStart = fn
	}
}

// WithJobFinished registers a callback invoked for every terminal job
// result, including jobs that were skipped or never launched.
func WithJobFinished(fn func(ctx context.Context, result models.JobResult)) SchedulerOpt {
	return func(s *Scheduler) {
		s.onDone = fn
	}
}

func NewScheduler(ctx context.Context, runner Runner, opts ...SchedulerOpt) *Scheduler {
	s := &Scheduler{
		runner: runner,
		l:      log.FromContext(ctx).With("component", "graph"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type finished struct {
	name   string
	result models.JobResult
}

// Execute runs every job of cw, honoring need edges. A job launches
// only once all of its needs succeeded; if any need reaches a terminal
// state other than success the job is skipped, and the skip cascades.
// Cancelling ctx stops new launches and marks unstarted jobs cancelled.
func (s *Scheduler) Execute(ctx context.Context, run models.RunId, cw workflow.CompiledWorkflow) map[string]models.JobResult {
	total := len(cw.Jobs)
	results := make(map[string]models.JobResult, total)
	state := make(map[string]models.JobStatus, total)
	for name := range cw.Jobs {
		state[name] = models.JobPending
	}

	doneCh := make(chan finished)
	running := 0
	completed := 0

	finish := func(res models.JobResult) {
		results[res.Job.Name] = res
		state[res.Job.Name] = res.Status
		completed++
		if s.onDone != nil {
			s.onDone(ctx, res)
		}
	}

	needsMet := func(job workflow.CompiledJob) bool {
		for _, need := range job.Needs {
			if state[need] != models.JobSucceeded {
				return false
			}
		}
		return true
	}

	blocked := func(job workflow.CompiledJob) bool {
		for _, need := range job.Needs {
			st := state[need]
			if st.Terminal() && st != models.JobSucceeded {
				return true
			}
		}
		return false
	}

	start := func(name string) {
		job := cw.Jobs[name]
		state[name] = models.JobRunning
		running++

		jobId := models.JobId{Run: run, Name: name}
		if s.onStart != nil {
			s.onStart(ctx, jobId)
		}
		s.l.Info("starting job", "run", run, "job", name)

		go func() {
			timeout := job.Timeout
			if timeout == 0 {
				timeout = s.defaultTimeout
			}

			jctx := ctx
			cancel := func() {}
			if timeout > 0 {
				jctx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()

			res := s.runner.RunJob(jctx, run, job)
			res.Job = jobId

			// a job that outlives its own deadline is a failure,
			// run-level cancellation is not
			if errors.Is(jctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				res.Status = models.JobFailed
				if res.Error == "" {
					res.Error = "job timed out"
				}
			}

			doneCh <- finished{name, res}
		}()
	}

	for completed < total {
		// Order is topological, so one pass both cascades skips and
		// finds every launchable job.
		for _, name := range cw.Order {
			if state[name] != models.JobPending {
				continue
			}
			job := cw.Jobs[name]
			if blocked(job) {
				finish(models.JobResult{
					Job:    models.JobId{Run: run, Name: name},
					Status: models.JobSkipped,
				})
				continue
			}
			if ctx.Err() == nil && needsMet(job) {
				start(name)
			}
		}

		if completed == total {
			break
		}

		if running == 0 {
			// nothing in flight and nothing launchable, the run was
			// cancelled before these jobs could start
			for _, name := range cw.Order {
				if state[name] == models.JobPending {
					finish(models.JobResult{
						Job:    models.JobId{Run: run, Name: name},
						Status: models.JobCancelled,
					})
				}
			}
			break
		}

		f := <-doneCh
		running--
		finish(f.result)
	}

	return results
}

// Aggregate folds per-job results into the run's terminal status.
// Skipped jobs do not fail a run on their own, their cause does.
func Aggregate(results map[string]models.JobResult) models.RunStatus {
	anyFailed := false
	anyCancelled := false
	for _, res := range results {
		switch res.Status {
		case models.JobFailed:
			anyFailed = true
		case models.JobCancelled:
			anyCancelled = true
		}
	}

	switch {
	case anyFailed:
		return models.RunFailed
	case anyCancelled:
		return models.RunCancelled
	default:
		return models.RunSuccess
	}
}
