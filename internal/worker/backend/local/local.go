// Package local implements backend.Backend over os/exec, the baseline
// execution path spec §4.3 describes and the one the teacher's
// runner.LocalRuntime left unimplemented ("not yet supported" on every
// method). Structure and log-forwarding idiom are grounded on
// runner.Runtime's lifecycle shape and docker.Runtime.GetBotLogs's
// line-by-line streaming, generalized from a long-lived container to a
// single os/exec.Cmd.
package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"automationhub/internal/enum"
	"automationhub/internal/worker/backend"
)

func init() {
	backend.Register(enum.BackendLocal, func(config map[string]interface{}) (backend.Backend, error) {
		interpreter, _ := config["python_interpreter"].(string)
		if interpreter == "" {
			interpreter = "python3"
		}
		return New(interpreter), nil
	})
}

// Backend spawns a run's entrypoint as a direct host process.
type Backend struct {
	pythonInterpreter string
}

// New returns a Backend that invokes script entrypoints with interpreter.
func New(interpreter string) *Backend {
	return &Backend{pythonInterpreter: interpreter}
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Type() enum.BackendType { return enum.BackendLocal }

func (b *Backend) Spawn(ctx context.Context, spec backend.RunSpec) (backend.Handle, error) {
	name, args, err := b.command(spec)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = spec.WorkingDir
	if cmd.Dir == "" {
		cmd.Dir = spec.ArtifactDir
	}
	cmd.Env = flattenEnv(spec.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("local backend: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("local backend: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("local backend: start: %w", err)
	}

	h := &handle{cmd: cmd, lines: make(chan backend.LogLine, 256)}
	h.wg.Add(2)
	go h.forward("stdout", stdout)
	go h.forward("stderr", stderr)
	go func() {
		h.wg.Wait()
		close(h.lines)
	}()

	return h, nil
}

func (b *Backend) command(spec backend.RunSpec) (string, []string, error) {
	path := spec.EntrypointPath
	if !filepath.IsAbs(path) && spec.ArtifactDir != "" {
		path = filepath.Join(spec.ArtifactDir, path)
	}
	switch spec.EntrypointKind {
	case enum.EntrypointKindScript:
		return b.pythonInterpreter, append([]string{path}, spec.Arguments...), nil
	case enum.EntrypointKindBinary:
		return path, spec.Arguments, nil
	default:
		return "", nil, fmt.Errorf("local backend: unsupported entrypoint kind %q", spec.EntrypointKind)
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
	cmd   *exec.Cmd
	lines chan backend.LogLine
	wg    sync.WaitGroup
}

func (h *handle) forward(stream string, r io.Reader) {
	defer h.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		h.lines <- backend.LogLine{Stream: stream, Message: scanner.Text(), Timestamp: time.Now()}
	}
}

func (h *handle) Lines() <-chan backend.LogLine { return h.lines }

func (h *handle) Wait(ctx context.Context) (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *handle) Signal(ctx context.Context, sig backend.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	switch sig {
	case backend.SignalKill:
		return h.cmd.Process.Kill()
	default:
		return h.cmd.Process.Signal(syscall.SIGTERM)
	}
}
