package worker

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automationhub/internal/enum"
)

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestMaterializeArtifactRejectsDigestMismatch(t *testing.T) {
	data := []byte("robot payload")
	err := materializeArtifact(data, "deadbeef", enum.ArtifactKindExe, t.TempDir(), "entrypoint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestMaterializeArtifactExtractsZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"main.py":          "print('hello')\n",
		"lib/helper.py":    "def helper(): pass\n",
	})
	dest := t.TempDir()

	err := materializeArtifact(data, digestOf(data), enum.ArtifactKindZip, dest, "main.py")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dest, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hello')\n", string(content))

	content, err = os.ReadFile(filepath.Join(dest, "lib", "helper.py"))
	require.NoError(t, err)
	assert.Equal(t, "def helper(): pass\n", string(content))
}

func TestMaterializeArtifactRejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../../etc/passwd")
	require.NoError(t, err)
	_, err = w.Write([]byte("pwned"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	data := buf.Bytes()

	err = materializeArtifact(data, digestOf(data), enum.ArtifactKindZip, t.TempDir(), "main.py")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file path")
}

func TestMaterializeArtifactWritesExecutable(t *testing.T) {
	data := []byte("#!/bin/sh\necho hi\n")
	dest := t.TempDir()

	err := materializeArtifact(data, digestOf(data), enum.ArtifactKindExe, dest, "bin/entrypoint")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dest, "entrypoint"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "executable bit should be set")
}

func TestMaterializeArtifactRejectsUnsupportedKind(t *testing.T) {
	data := []byte("x")
	err := materializeArtifact(data, digestOf(data), enum.ArtifactKind("unknown"), t.TempDir(), "entrypoint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported artifact kind")
}
