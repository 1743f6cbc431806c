// Package dockerbackend runs a run's entrypoint inside a short-lived
// container instead of a host process, for robots whose RobotVersion
// config requests container isolation. Adapted from the teacher's
// internal/docker.Runtime: the same client, the same
// create-then-start-then-ContainerLogs shape, generalized from a
// long-lived bot container to a one-shot run container that is removed
// on exit instead of stopped/restarted.
package dockerbackend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"automationhub/internal/enum"
	"automationhub/internal/worker/backend"
)

const labelManaged = "automationhub.managed"

func init() {
	backend.Register(enum.BackendDocker, func(config map[string]interface{}) (backend.Backend, error) {
		host, _ := config["host"].(string)
		return New(host)
	})
}

// Backend spawns run containers against a Docker daemon.
type Backend struct {
	client *client.Client
}

// New dials the Docker daemon at host (empty uses the client library's
// default, matching the teacher's client.WithAPIVersionNegotiation path).
func New(host string) (*Backend, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("dockerbackend: new client: %w", err)
	}
	return &Backend{client: cli}, nil
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Type() enum.BackendType { return enum.BackendDocker }

func containerName(runID string) string { return "automationhub-run-" + runID }

func (b *Backend) Spawn(ctx context.Context, spec backend.RunSpec) (backend.Handle, error) {
	cmd, err := entrypointCommand(spec)
	if err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image:  spec.RobotName, // the robot's published image reference
		Cmd:    cmd,
		Env:    flattenEnv(spec.Env),
		Labels: map[string]string{labelManaged: "true"},
	}
	hostCfg := &container.HostConfig{AutoRemove: false}

	name := containerName(spec.RunID)
	resp, err := b.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("dockerbackend: create container: %w", err)
	}
	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_, _ = b.client.ContainerWait(ctx, resp.ID, "")
		_ = b.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("dockerbackend: start container: %w", err)
	}

	h := &handle{client: b.client, containerID: resp.ID, lines: make(chan backend.LogLine, 256)}
	go h.streamLogs(ctx)
	return h, nil
}

func entrypointCommand(spec backend.RunSpec) ([]string, error) {
	switch spec.EntrypointKind {
	case enum.EntrypointKindScript:
		return append([]string{"python3", spec.EntrypointPath}, spec.Arguments...), nil
	case enum.EntrypointKindBinary:
		return append([]string{spec.EntrypointPath}, spec.Arguments...), nil
	default:
		return nil, fmt.Errorf("dockerbackend: unsupported entrypoint kind %q", spec.EntrypointKind)
	}
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

type handle struct {
	client      *client.Client
	containerID string
	lines       chan backend.LogLine
}

func (h *handle) streamLogs(ctx context.Context) {
	defer close(h.lines)
	logs, err := h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true, ShowStderr: true, Follow: true, Timestamps: false,
	})
	if err != nil {
		return
	}
	defer logs.Close()

	scanner := bufio.NewScanner(logs)
	for scanner.Scan() {
		h.lines <- backend.LogLine{Stream: "stdout", Message: scanner.Text(), Timestamp: time.Now()}
	}
}

func (h *handle) Lines() <-chan backend.LogLine { return h.lines }

func (h *handle) Wait(ctx context.Context) (int, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, "")
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		_ = h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (h *handle) Signal(ctx context.Context, sig backend.Signal) error {
	switch sig {
	case backend.SignalKill:
		return h.client.ContainerKill(ctx, h.containerID, "SIGKILL")
	default:
		timeout := 30
		return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
	}
}

var _ io.Closer = (*handle)(nil)

func (h *handle) Close() error { return nil }
