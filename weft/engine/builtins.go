package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"weft.sh/weft/core/weft/artifact"
	"weft.sh/weft/core/weft/cache"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/weft/publish"
	"weft.sh/weft/core/weft/secrets"
	"weft.sh/weft/core/workflow"
)

// runBuiltin executes one of the host-side builtin actions. Composite
// references to user actions were already expanded at compile time, so
// any `uses` that survives to execution is a builtin.
func (r *Run) runBuiltin(ctx context.Context, st *jobState, idx int, step workflow.Step, logger *models.JobLogger, res *models.JobResult) error {
	out := logger.DataWriter(idx, "stdout")

	switch step.Uses {
	case workflow.ActionCheckout:
		return r.checkout(ctx, st, step.With, out)
	case workflow.ActionCache:
		return r.restoreCache(st, step, out)
	case workflow.ActionUploadArtifact:
		return r.uploadArtifact(ctx, st, step.With, res.Job.Run, out)
	case workflow.ActionDownloadArtifact:
		return r.downloadArtifact(ctx, st, step.With, res.Job.Run, out)
	case workflow.ActionDeploy:
		return r.deployArtifact(ctx, step.With, res.Job.Run, out)
	case workflow.ActionQualityGate:
		return r.qualityGate(ctx, step.With, out)
	}

	return fmt.Errorf("unknown builtin action %q", step.Uses)
}

// hostPath resolves a workspace-relative path without letting it
// escape the workspace.
func hostPath(ws, rel string) (string, error) {
	return securejoin.SecureJoin(ws, rel)
}

func (r *Run) checkout(ctx context.Context, st *jobState, with map[string]string, out io.Writer) error {
	repo := with["repo"]
	if repo == "" {
		repo = r.event.Repo
	}
	sha := with["sha"]
	if sha == "" {
		sha = r.event.Sha
	}

	url := r.e.forge + "/" + repo
	fmt.Fprintf(out, "cloning %s\n", url)

	cloned, err := git.PlainCloneContext(ctx, st.ws, false, &git.CloneOptions{
		URL:        url,
		NoCheckout: sha != "",
	})
	if err != nil {
		return fmt.Errorf("cloning %s: %w", repo, err)
	}

	if sha != "" {
		wt, err := cloned.Worktree()
		if err != nil {
			return err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
			return fmt.Errorf("checking out %s: %w", sha, err)
		}
		fmt.Fprintf(out, "checked out %s\n", sha)
	}

	return nil
}

// restoreCache looks the step's key up in the cache store. On a hit
// the entry is unpacked into the workspace; on a miss the key is
// remembered and saved when the job succeeds. Misses are visible to
// later steps through cache-miss(<step-id>).
func (r *Run) restoreCache(st *jobState, step workflow.Step, out io.Writer) error {
	relPath := step.With["path"]
	if relPath == "" {
		return fmt.Errorf("cache: missing path input")
	}

	h := sha256.New()
	h.Write([]byte(step.With["key"]))
	if files := strings.Fields(step.With["files"]); len(files) > 0 {
		fh, err := cache.HashFiles(st.ws, files)
		if err != nil {
			return fmt.Errorf("cache: hashing files: %w", err)
		}
		h.Write([]byte(fh))
	}

	key := cache.Key(r.event.Repo, st.image, hex.EncodeToString(h.Sum(nil)))

	rc, hit, err := r.e.cache.Lookup(key)
	if err != nil {
		return err
	}

	if !hit {
		fmt.Fprintf(out, "cache miss for %s\n", key)
		if step.ID != "" {
			st.state.CacheMiss[step.ID] = true
		}
		st.pendingCaches = append(st.pendingCaches, pendingCache{key: key, path: relPath})
		return nil
	}
	defer rc.Close()

	dest, err := hostPath(st.ws, relPath)
	if err != nil {
		return err
	}
	if err := unpackTree(rc, dest); err != nil {
		return fmt.Errorf("cache: restoring %s: %w", key, err)
	}

	fmt.Fprintf(out, "cache hit for %s\n", key)
	return nil
}

// saveCaches stores every cache entry that missed during a successful
// job. Failures here are logged, not fatal: the job's work is done.
func (r *Run) saveCaches(ctx context.Context, st *jobState, res *models.JobResult) {
	for _, pc := range st.pendingCaches {
		if ctx.Err() != nil {
			return
		}

		dir, err := hostPath(st.ws, pc.path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			// the job never produced the cached path
			continue
		}

		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(packPath(dir, pw))
		}()

		if err := r.e.cache.Store(pc.key, pr); err != nil {
			r.e.l.Warn("saving cache failed", "key", pc.key, "err", err)
			continue
		}

		res.ProducedCaches = append(res.ProducedCaches, pc.key)
	}
}

func (r *Run) uploadArtifact(ctx context.Context, st *jobState, with map[string]string, run models.RunId, out io.Writer) error {
	name := with["name"]
	relPath := with["path"]
	if name == "" || relPath == "" {
		return fmt.Errorf("upload-artifact: name and path are required")
	}

	src, err := hostPath(st.ws, relPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("upload-artifact: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(packPath(src, pw))
	}()

	if err := r.e.artifacts.Put(ctx, run, name, pr); err != nil {
		return fmt.Errorf("upload-artifact: storing %q: %w", name, err)
	}

	st.producedArtifacts = append(st.producedArtifacts, name)
	fmt.Fprintf(out, "uploaded artifact %s\n", name)
	return nil
}

func (r *Run) downloadArtifact(ctx context.Context, st *jobState, with map[string]string, run models.RunId, out io.Writer) error {
	name := with["name"]
	if name == "" {
		return fmt.Errorf("download-artifact: name is required")
	}
	relPath := with["path"]
	if relPath == "" {
		relPath = "."
	}

	rc, err := r.e.artifacts.Get(ctx, run, name)
	if errors.Is(err, artifact.ErrNotFound) {
		available, lerr := r.e.artifacts.List(ctx, run)
		if lerr == nil && len(available) > 0 {
			return fmt.Errorf("download-artifact: %w: %q (run has: %s)", artifact.ErrNotFound, name, strings.Join(available, ", "))
		}
		return fmt.Errorf("download-artifact: %w: %q (run has no artifacts)", artifact.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("download-artifact: %w", err)
	}
	defer rc.Close()

	dest, err := hostPath(st.ws, relPath)
	if err != nil {
		return err
	}
	if err := unpackTree(rc, dest); err != nil {
		return fmt.Errorf("download-artifact: unpacking %q: %w", name, err)
	}

	fmt.Fprintf(out, "downloaded artifact %s\n", name)
	return nil
}

func (r *Run) deployArtifact(ctx context.Context, with map[string]string, run models.RunId, out io.Writer) error {
	environment := with["environment"]
	art := with["artifact"]
	if environment == "" || art == "" {
		return fmt.Errorf("deploy: environment and artifact are required")
	}
	if r.e.deploy == nil {
		return fmt.Errorf("deploy: no publisher configured")
	}

	dep, err := r.e.deploy.Publish(ctx, publish.Request{
		Run:         run,
		Scope:       secrets.Scope(r.event.Repo),
		Environment: environment,
		Artifact:    art,
	})
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	fmt.Fprintf(out, "deployed %s to %s\n", art, dep.URL)
	return nil
}

func (r *Run) qualityGate(ctx context.Context, with map[string]string, out io.Writer) error {
	if r.e.gate == nil {
		return fmt.Errorf("quality-gate: no analysis service configured")
	}

	var token string
	unlocked, err := r.e.secrets.GetSecretsUnlocked(ctx, secrets.Scope(r.event.Repo))
	if err == nil {
		for _, s := range unlocked {
			if s.Key == r.e.qualityCfg.TokenSecret {
				token = s.Value
				break
			}
		}
	}

	report, err := r.e.gate.Check(ctx, token, r.event.Sha)
	if err != nil {
		return fmt.Errorf("quality-gate: %w", err)
	}

	if r.e.annotator != nil && r.event.IsPullRequest() {
		if err := r.e.annotator.Annotate(ctx, r.event, report); err != nil {
			r.e.l.Warn("posting gate verdict failed", "repo", r.event.Repo, "err", err)
		}
	}

	if report.Indeterminate {
		fmt.Fprintln(out, "analysis unavailable, gate is indeterminate")
		return nil
	}

	if !report.Passed {
		for _, f := range report.Findings {
			fmt.Fprintf(out, "%s:%d: %s: %s\n", f.Path, f.Line, f.Severity, f.Message)
		}
		return fmt.Errorf("quality-gate: %d findings", len(report.Findings))
	}

	fmt.Fprintln(out, "quality gate passed")
	return nil
}
