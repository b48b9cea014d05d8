package docker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"applet-tester/pkg/log"
)

// containerSpec describes the container running one job
type containerSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Env     []string
	WorkDir string
	Binds   map[string]string // host path -> container path
	Labels  map[string]string
}

// containerState is the part of an inspect response the backend needs
type containerState struct {
	Status   string
	ExitCode int
	Error    string
}

// engine is the subset of the Docker Engine API used by the backend
type engine interface {
	EnsureImage(ctx context.Context, ref string) error
	Start(ctx context.Context, spec containerSpec) (string, error)
	Inspect(ctx context.Context, id string) (containerState, error)
	Logs(ctx context.Context, id string, follow bool, stdout, stderr io.Writer) error
	Remove(ctx context.Context, id string) error
}

// sdkEngine implements engine with the Docker SDK client
type sdkEngine struct {
	cli *client.Client
}

// newSDKEngine connects to the daemon configured by the DOCKER_* environment.
func newSDKEngine() (*sdkEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &sdkEngine{cli: cli}, nil
}

func (e *sdkEngine) EnsureImage(ctx context.Context, ref string) error {
	if _, err := e.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	log.Info("Pulling image", "image", ref)
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func (e *sdkEngine) Start(ctx context.Context, spec containerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Binds))
	for src, dst := range spec.Binds {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: src, Target: dst})
	}

	created, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        spec.Cmd,
			Env:        spec.Env,
			WorkingDir: spec.WorkDir,
			Labels:     spec.Labels,
		},
		&container.HostConfig{Mounts: mounts},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range created.Warnings {
		log.Warn("Container create warning", "container", spec.Name, "warning", w)
	}

	if err := e.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = e.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}
	return created.ID, nil
}

func (e *sdkEngine) Inspect(ctx context.Context, id string) (containerState, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return containerState{}, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return containerState{}, errors.New("container inspect response has no state")
	}
	return containerState{
		Status:   string(info.State.Status),
		ExitCode: info.State.ExitCode,
		Error:    info.State.Error,
	}, nil
}

func (e *sdkEngine) Logs(ctx context.Context, id string, follow bool, stdout, stderr io.Writer) error {
	rc, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch logs of %s: %w", id, err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to read logs of %s: %w", id, err)
	}
	return ctx.Err()
}

func (e *sdkEngine) Remove(ctx context.Context, id string) error {
	err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}
