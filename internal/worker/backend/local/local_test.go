package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"automationhub/internal/enum"
	"automationhub/internal/worker/backend"
)

func TestSpawnBinaryCapturesStdoutAndExitCode(t *testing.T) {
	b := New("python3")
	h, err := b.Spawn(context.Background(), backend.RunSpec{
		EntrypointKind: enum.EntrypointKindBinary,
		EntrypointPath: "/bin/echo",
		Arguments:      []string{"hello-run"},
	})
	require.NoError(t, err)

	var got []string
	done := make(chan struct{})
	go func() {
		for l := range h.Lines() {
			got = append(got, l.Message)
		}
		close(done)
	}()

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, code)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log forwarding to finish")
	}
	require.Contains(t, got, "hello-run")
}

func TestSpawnBinaryNonZeroExit(t *testing.T) {
	b := New("python3")
	h, err := b.Spawn(context.Background(), backend.RunSpec{
		EntrypointKind: enum.EntrypointKindBinary,
		EntrypointPath: "/bin/sh",
		Arguments:      []string{"-c", "exit 3"},
	})
	require.NoError(t, err)
	for range h.Lines() {
	}
	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, code)
}

func TestSignalTermStopsProcess(t *testing.T) {
	b := New("python3")
	h, err := b.Spawn(context.Background(), backend.RunSpec{
		EntrypointKind: enum.EntrypointKindBinary,
		EntrypointPath: "/bin/sleep",
		Arguments:      []string{"30"},
	})
	require.NoError(t, err)

	require.NoError(t, h.Signal(context.Background(), backend.SignalTerm))

	done := make(chan struct{})
	go func() {
		for range h.Lines() {
		}
		close(done)
	}()
	_, _ = h.Wait(context.Background())
	<-done
}
