// Package backend defines the pluggable process-execution surface the
// Worker spawns a run's entrypoint through (spec §4.3). It is modeled
// directly on the teacher's runner.Runtime interface
// (CreateBot/StartBot/GetBotLogs/...), generalized from a long-lived bot
// container to a single-shot run: one Spawn, one Wait, no restart.
package backend

import (
	"context"
	"time"

	"automationhub/internal/enum"
)

// RunSpec is everything a Backend needs to start one run's process.
type RunSpec struct {
	RunID          string
	RobotName      string
	EntrypointKind enum.EntrypointKind
	EntrypointPath string
	Arguments      []string
	Env            map[string]string
	WorkingDir     string
	// ArtifactDir is the scratch directory the Worker already materialized
	// the artifact bytes into (spec §4.3 step 1-2); the local backend
	// executes here directly. The docker and kubernetes backends do not
	// read it: they run the image named by RobotName.
	ArtifactDir string
}

// Signal is a termination signal a Handle can be asked to deliver,
// abstracted over host OS signals / container stop / pod delete.
type Signal int

const (
	SignalTerm Signal = iota
	SignalKill
)

// LogLine is one line of captured stdout/stderr, tagged by stream.
type LogLine struct {
	Stream    string // "stdout" or "stderr"
	Message   string
	Timestamp time.Time
}

// Handle is a running (or just-finished) process spawned by a Backend.
type Handle interface {
	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context) (exitCode int, err error)
	// Signal asks the process to terminate; Backend-specific semantics
	// decide whether this is graceful (SignalTerm) or immediate (SignalKill).
	Signal(ctx context.Context, sig Signal) error
	// Lines streams captured stdout/stderr; closed once the process has
	// exited and all buffered output has been forwarded.
	Lines() <-chan LogLine
}

// Backend spawns and supervises run processes for one execution
// environment (host process, container, cluster job).
type Backend interface {
	Spawn(ctx context.Context, spec RunSpec) (Handle, error)
	Type() enum.BackendType
}
