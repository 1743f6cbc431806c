// Package artifactstore is the external bytes store for run artifacts and
// published robot version bundles, addressed by SHA-256 digest rather than
// by a fixed per-entity key. Adapted from internal/s3.Client: the same
// minio-go client and PutObject/GetObject/StatObject calls, generalized
// from a single fixed key (runners/data/{id}.tar.gz) to a content-addressed
// layout (artifacts/{sha256}) so the same bytes uploaded twice collapse to
// one object.
package artifactstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"automationhub/internal/s3"
)

// Store is the digest-addressed bytes store the Worker downloads published
// artifacts from and uploads run-produced artifacts to.
type Store interface {
	// Download fetches the bytes for digest. Callers must close the reader.
	Download(ctx context.Context, digest string) (io.ReadCloser, error)
	// Upload reads r in full, computes its SHA-256 digest, stores the bytes
	// under that digest and returns the digest and the storage key (idempotent:
	// uploading identical bytes twice yields the same digest and key).
	Upload(ctx context.Context, r io.Reader) (digest string, path string, err error)
	// Exists reports whether digest is already present (used to skip a
	// redundant upload).
	Exists(ctx context.Context, digest string) (bool, error)
}

func digestKey(digest string) string { return fmt.Sprintf("artifacts/%s", digest) }

// S3Store implements Store over an S3-compatible bucket via minio-go.
type S3Store struct {
	client *s3.Client
}

// NewS3Store builds an S3Store from S3-compatible connection config.
func NewS3Store(cfg *s3.Config) (*S3Store, error) {
	client, err := s3.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: new s3 client: %w", err)
	}
	return &S3Store{client: client}, nil
}

var _ Store = (*S3Store)(nil)

func (s *S3Store) Download(ctx context.Context, digest string) (io.ReadCloser, error) {
	rc, err := s.client.DownloadByKey(ctx, digestKey(digest))
	if err != nil {
		return nil, fmt.Errorf("artifactstore: download %s: %w", digest, err)
	}
	return rc, nil
}

// Upload buffers r in memory to compute its digest, then uploads under
// the digest-derived key. Run artifacts are
// expected to be modest (log/report/output files, not multi-GB blobs);
// spooling to a pipe would require a second pass over the reader to seek
// back to the start, which io.Reader does not support, so this path reads
// into memory once per upload rather than streaming twice.
func (s *S3Store) Upload(ctx context.Context, r io.Reader) (string, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("artifactstore: read upload body: %w", err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	key := digestKey(digest)

	exists, err := s.Exists(ctx, digest)
	if err != nil {
		return "", "", err
	}
	if exists {
		return digest, key, nil
	}

	if err := s.client.UploadBytes(ctx, key, data); err != nil {
		return "", "", fmt.Errorf("artifactstore: upload %s: %w", digest, err)
	}
	return digest, key, nil
}

func (s *S3Store) Exists(ctx context.Context, digest string) (bool, error) {
	exists, err := s.client.KeyExists(ctx, digestKey(digest))
	if err != nil {
		return false, fmt.Errorf("artifactstore: exists %s: %w", digest, err)
	}
	return exists, nil
}

// IsNotFound reports whether err corresponds to a missing object.
func IsNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
