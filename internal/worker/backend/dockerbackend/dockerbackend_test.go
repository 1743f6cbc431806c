package dockerbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automationhub/internal/enum"
	"automationhub/internal/worker/backend"
)

func TestEntrypointCommandScript(t *testing.T) {
	cmd, err := entrypointCommand(backend.RunSpec{
		EntrypointKind: enum.EntrypointKindScript,
		EntrypointPath: "/app/main.py",
		Arguments:      []string{"--flag", "value"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "/app/main.py", "--flag", "value"}, cmd)
}

func TestEntrypointCommandBinary(t *testing.T) {
	cmd, err := entrypointCommand(backend.RunSpec{
		EntrypointKind: enum.EntrypointKindBinary,
		EntrypointPath: "/app/bin/run",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/app/bin/run"}, cmd)
}

func TestEntrypointCommandRejectsUnknownKind(t *testing.T) {
	_, err := entrypointCommand(backend.RunSpec{EntrypointKind: enum.EntrypointKind("weird")})
	require.Error(t, err)
}

func TestFlattenEnv(t *testing.T) {
	out := flattenEnv(map[string]string{"ROBOT_ID": "r-1"})
	assert.Equal(t, []string{"ROBOT_ID=r-1"}, out)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "automationhub-run-abc-123", containerName("abc-123"))
}
