// Package engine executes compiled jobs: one bind mounted workspace
// and one private network per job, one hardened container per command
// step, builtin steps (checkout, cache, artifacts, deploy, quality
// gate) running host side against the orchestrator's stores.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"

	"weft.sh/weft/core/log"
	"weft.sh/weft/core/weft/artifact"
	"weft.sh/weft/core/weft/cache"
	"weft.sh/weft/core/weft/config"
	"weft.sh/weft/core/weft/db"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/weft/publish"
	"weft.sh/weft/core/weft/quality"
	"weft.sh/weft/core/weft/secrets"
	"weft.sh/weft/core/workflow"
)

type deployer interface {
	Publish(ctx context.Context, req publish.Request) (db.Deployment, error)
}

type gate interface {
	Check(ctx context.Context, token, sha string) (quality.Report, error)
}

type Engine struct {
	runner    commandRunner
	cache     *cache.DiskStore
	artifacts artifact.Store
	secrets   secrets.Manager
	deploy    deployer
	gate      gate
	annotator quality.Annotator

	runsCfg    config.Runs
	qualityCfg config.Quality
	forge      string
	l          *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, c *cache.DiskStore, store artifact.Store, sm secrets.Manager, pub *publish.Publisher, q *quality.Client, annotator quality.Annotator) (*Engine, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	l := log.FromContext(ctx).With("component", "engine")

	scheme := "https"
	if cfg.Server.Dev {
		scheme = "http"
	}

	e := &Engine{
		runner:     &dockerRunner{docker: dcli, l: l},
		cache:      c,
		artifacts:  store,
		secrets:    sm,
		annotator:  annotator,
		runsCfg:    cfg.Runs,
		qualityCfg: cfg.Quality,
		forge:      fmt.Sprintf("%s://%s", scheme, cfg.Server.Hostname),
		l:          l,
	}
	if pub != nil {
		e.deploy = pub
	}
	if q != nil {
		e.gate = q
	}
	return e, nil
}

// Runner binds the engine to the event of one run.
func (e *Engine) Runner(event workflow.Event) *Run {
	return &Run{e: e, event: event}
}

type Run struct {
	e     *Engine
	event workflow.Event
}

// jobState is the mutable per-job context threaded through steps.
type jobState struct {
	state stepState
	ws    string
	image string

	producedArtifacts []string
	pendingCaches     []pendingCache
}

type pendingCache struct {
	key  string
	path string
}

func (r *Run) RunJob(ctx context.Context, runId models.RunId, job workflow.CompiledJob) models.JobResult {
	e := r.e
	jid := models.JobId{Run: runId, Name: job.Name}
	res := models.JobResult{Job: jid, Status: models.JobSucceeded, FailedStep: -1}

	ws := filepath.Join(e.runsCfg.WorkspaceDir, jid.String())
	if err := os.MkdirAll(ws, 0755); err != nil {
		return failed(res, fmt.Errorf("creating workspace: %w", err))
	}
	defer os.RemoveAll(ws)

	logger, err := models.NewJobLogger(e.runsCfg.LogDir, jid)
	if err != nil {
		return failed(res, err)
	}
	defer logger.Close()

	if err := e.runner.Setup(ctx, jid); err != nil {
		return failed(res, fmt.Errorf("job setup: %w", err))
	}
	defer e.runner.Teardown(context.WithoutCancel(ctx), jid)

	image := job.Image
	if image == "" {
		image = e.runsCfg.DefaultImage
	}

	secretEnv := make(map[string]string)
	unlocked, err := e.secrets.GetSecretsUnlocked(ctx, secrets.Scope(r.event.Repo))
	if err != nil {
		e.l.Warn("could not load secrets", "repo", r.event.Repo, "err", err)
	}
	for _, s := range unlocked {
		secretEnv[s.Key] = s.Value
	}

	sysEnv := map[string]string{
		"WEFT_RUN":   string(runId),
		"WEFT_JOB":   job.Name,
		"WEFT_REPO":  r.event.Repo,
		"WEFT_REF":   r.event.Ref,
		"WEFT_SHA":   r.event.Sha,
		"WEFT_EVENT": r.event.Kind,
	}

	st := &jobState{
		state: stepState{CacheMiss: make(map[string]bool)},
		ws:    ws,
		image: image,
	}

	for idx, step := range job.Steps {
		if err := ctx.Err(); err != nil {
			if st.state.Failed {
				// keep the failing step's attribution
				return res
			}
			if errors.Is(err, context.DeadlineExceeded) {
				res.Status = models.JobFailed
				res.Error = ErrTimedOut.Error()
				return res
			}
			res.Status = models.JobCancelled
			res.Error = err.Error()
			return res
		}

		name := step.DisplayName()

		ok, err := EvalCondition(step.If, st.state)
		if err != nil {
			logger.Control(idx, name, models.StepFailed)
			r.markFailure(st, &res, idx, name, 0, err.Error())
			continue
		}
		if !ok {
			logger.Control(idx, name, models.StepSkipped)
			continue
		}

		logger.Control(idx, name, models.StepRunning)

		var exitCode int
		var runErr error
		if step.IsComposite() {
			runErr = r.runBuiltin(ctx, st, idx, step, logger, &res)
		} else {
			envs := ConstructEnvs(job.Environment, step.Environment, secretEnv, sysEnv)
			envs.AddEnv("HOME", workDir)
			exitCode, runErr = e.runner.Run(ctx, commandSpec{
				Image:     image,
				Command:   step.Command,
				Env:       envs.Slice(),
				Workspace: ws,
				Network:   jobNetwork(jid),
			}, logger.DataWriter(idx, "stdout"), logger.DataWriter(idx, "stderr"))
		}

		if runErr != nil || exitCode != 0 {
			logger.Control(idx, name, models.StepFailed)

			msg := fmt.Sprintf("exit code %d", exitCode)
			if runErr != nil {
				msg = runErr.Error()
			}

			if step.ContinueOnError {
				e.l.Warn("step failed, continuing", "job", jid, "step", name, "err", msg)
				continue
			}

			r.markFailure(st, &res, idx, name, exitCode, msg)
			continue
		}

		logger.Control(idx, name, models.StepSucceeded)
	}

	if res.Status == models.JobSucceeded {
		r.saveCaches(ctx, st, &res)
	}

	res.ProducedArtifacts = st.producedArtifacts
	return res
}

// markFailure records the first failing step; later failures in the
// same job keep the original attribution.
func (r *Run) markFailure(st *jobState, res *models.JobResult, idx int, name string, exitCode int, msg string) {
	if st.state.Failed {
		return
	}
	st.state.Failed = true
	res.Status = models.JobFailed
	res.ExitCode = exitCode
	res.Error = msg
	res.FailedStep = idx
	res.FailedStepName = name
}

func failed(res models.JobResult, err error) models.JobResult {
	res.Status = models.JobFailed
	res.Error = err.Error()
	return res
}
