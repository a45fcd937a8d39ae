package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"weft.sh/weft/core/weft/models"
)

const workDir = "/weft/workspace"

type commandSpec struct {
	Image     string
	Command   string
	Env       []string
	Workspace string // host directory bind mounted at workDir
	Network   string
}

// commandRunner abstracts the container backend so the step loop can
// be exercised without a docker daemon.
type commandRunner interface {
	Setup(ctx context.Context, job models.JobId) error
	Run(ctx context.Context, spec commandSpec, stdout, stderr io.Writer) (int, error)
	Teardown(ctx context.Context, job models.JobId) error
}

type dockerRunner struct {
	docker client.APIClient
	l      *slog.Logger

	mu     sync.Mutex
	pulled map[string]bool
}

// Setup creates the job's private bridge network.
func (d *dockerRunner) Setup(ctx context.Context, job models.JobId) error {
	_, err := d.docker.NetworkCreate(ctx, jobNetwork(job), network.CreateOptions{
		Driver: "bridge",
	})
	return err
}

func (d *dockerRunner) Teardown(ctx context.Context, job models.JobId) error {
	return d.docker.NetworkRemove(ctx, jobNetwork(job))
}

func (d *dockerRunner) pull(ctx context.Context, img string) error {
	d.mu.Lock()
	if d.pulled[img] {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	reader, err := d.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %q: %w", img, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}

	d.mu.Lock()
	if d.pulled == nil {
		d.pulled = make(map[string]bool)
	}
	d.pulled[img] = true
	d.mu.Unlock()
	return nil
}

// Run executes one command in a fresh container and blocks until it
// exits, streaming output into the provided writers.
func (d *dockerRunner) Run(ctx context.Context, spec commandSpec, stdout, stderr io.Writer) (int, error) {
	if err := d.pull(ctx, spec.Image); err != nil {
		return -1, err
	}

	resp, err := d.docker.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Cmd:        []string{"sh", "-c", spec.Command},
		WorkingDir: workDir,
		Tty:        false,
		Hostname:   "weft",
		Env:        spec.Env,
	}, hostConfig(spec.Workspace), nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("creating container: %w", err)
	}

	defer func() {
		// removal runs even when ctx is gone
		_ = d.docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
	}()

	if spec.Network != "" {
		if err := d.docker.NetworkConnect(ctx, spec.Network, resp.ID, nil); err != nil {
			return -1, fmt.Errorf("connecting network: %w", err)
		}
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, err
	}
	d.l.Info("started container", "name", resp.ID)

	logs, err := d.docker.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return -1, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = stdcopy.StdCopy(stdout, stderr, logs)
		_ = logs.Close()
	}()

	wait, errCh := d.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, err
		}
	case <-wait:
	}

	<-done

	info, err := d.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return -1, err
	}

	state := info.State
	if state.OOMKilled {
		return int(state.ExitCode), ErrOOMKilled
	}

	return int(state.ExitCode), nil
}

func jobNetwork(job models.JobId) string {
	return "job-" + job.String()
}

func hostConfig(workspace string) *container.HostConfig {
	return &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workspace,
				Target: workDir,
			},
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,exec",
		},
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}
}
