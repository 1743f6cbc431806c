package artifactstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadIsContentAddressed(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	digest1, key1, err := s.Upload(ctx, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	digest2, key2, err := s.Upload(ctx, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	assert.Equal(t, digest1, digest2)
	assert.Equal(t, key1, key2)
}

func TestDownloadRoundTrips(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	digest, _, err := s.Upload(ctx, bytes.NewReader([]byte("payload bytes")))
	require.NoError(t, err)

	rc, err := s.Download(ctx, digest)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(data))
}

func TestDownloadMissingDigestErrors(t *testing.T) {
	s := NewMemStore()
	_, err := s.Download(context.Background(), "deadbeef")
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	digest := s.Seed([]byte("seeded"))
	ok, err = s.Exists(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)
}
