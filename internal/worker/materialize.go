package worker

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"automationhub/internal/enum"
)

// maxDecompressedSize guards against decompression bombs, mirroring the
// teacher's data_packager.go cap on tar.gz extraction (generalized to zip
// here since RobotVersion.artifact_kind=zip is this domain's archive shape).
const maxDecompressedSize = 1 << 30 // 1GB

// materializeArtifact takes the already-downloaded artifact bytes, checks
// their SHA-256 against expectedDigest, and places them under scratchDir:
// extracted in place for ArtifactKindZip, written as a single executable
// file for ArtifactKindExe.
func materializeArtifact(data []byte, expectedDigest string, kind enum.ArtifactKind, scratchDir, entrypointPath string) error {
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != expectedDigest {
		return fmt.Errorf("artifact digest mismatch: expected %s, got %s", expectedDigest, got)
	}

	switch kind {
	case enum.ArtifactKindZip:
		return extractZip(data, scratchDir)
	case enum.ArtifactKindExe:
		return writeExecutable(data, scratchDir, entrypointPath)
	default:
		return fmt.Errorf("unsupported artifact kind %q", kind)
	}
}

func extractZip(data []byte, destDir string) error {
	r, err := zip.NewReader(strings.NewReader(string(data)), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip artifact: %w", err)
	}

	var totalSize int64
	for _, f := range r.File {
		// #nosec G305 -- path traversal check is performed below
		destPath := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in artifact: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o750); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			continue
		}

		totalSize += int64(f.UncompressedSize64)
		if totalSize > maxDecompressedSize {
			return fmt.Errorf("artifact exceeds maximum decompressed size (%d bytes)", maxDecompressedSize)
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
		if err := extractZipFile(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, destPath string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer src.Close()

	// #nosec G304 -- destPath is validated for path traversal in extractZip
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write extracted file %s: %w", destPath, err)
	}
	return nil
}

func writeExecutable(data []byte, destDir, entrypointPath string) error {
	name := filepath.Base(entrypointPath)
	if name == "" || name == "." {
		name = "entrypoint"
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, data, 0o750); err != nil {
		return fmt.Errorf("write executable: %w", err)
	}
	return nil
}
