package worker

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"automationhub/internal/runengine"
	"automationhub/internal/store"
)

// artifactsSubdir is the conventional location, inside the run's scratch
// directory, a robot places files it wants uploaded as run artifacts
// (spec §4.3 step 8, "files declared by the run").
const artifactsSubdir = "artifacts"

func (w *Worker) materialize(ctx context.Context, run *store.Run, version *store.RobotVersion, scratchDir string) error {
	rc, err := w.artifacts.Download(ctx, version.ArtifactDigest)
	if err != nil {
		return fmt.Errorf("artifact not found: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}

	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	return materializeArtifact(data, version.ArtifactDigest, version.ArtifactKind, scratchDir, version.EntrypointPath)
}

// assembleEnv implements spec §4.3 step 3: default_env, then every
// RobotEnvBinding for (robot, run.env_name) decrypted if secret, then the
// runtime env from the trigger payload, then a required-key check.
func (w *Worker) assembleEnv(ctx context.Context, run *store.Run, version *store.RobotVersion) (map[string]string, error) {
	env := make(map[string]string, len(version.DefaultEnv))
	for k, v := range version.DefaultEnv {
		env[k] = v
	}

	bindings, err := w.store.ListEnvBindings(ctx, run.RobotID, string(run.EnvName))
	if err != nil {
		return nil, fmt.Errorf("list env bindings: %w", err)
	}
	for _, b := range bindings {
		value := b.Value
		if b.IsSecret {
			if w.cipher == nil || !w.cipher.Enabled() {
				return nil, fmt.Errorf("cannot decrypt secret env binding %q: cipher disabled", b.Key)
			}
			decrypted, err := w.cipher.Decrypt(value)
			if err != nil {
				return nil, fmt.Errorf("decrypt env binding %q: %w", b.Key, err)
			}
			value = decrypted
		}
		env[b.Key] = value
	}

	for k, v := range run.RuntimeEnv {
		env[k] = v
	}

	var missing []string
	for _, key := range version.RequiredEnvKeys {
		if _, ok := env[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("MissingRequiredEnv: %v", missing)
	}

	return env, nil
}

// collectArtifacts uploads every file a run placed under its scratch
// directory's artifacts/ subdirectory, returning the FinishedArtifact rows
// ReportFinish should record. Upload failures are logged, not fatal — a
// run's terminal status must not hinge on artifact storage availability.
func (w *Worker) collectArtifacts(ctx context.Context, run *store.Run, scratchDir string) []runengine.FinishedArtifact {
	dir := filepath.Join(scratchDir, artifactsSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []runengine.FinishedArtifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			w.logger.Warn("open declared artifact failed", zap.String("run_id", run.ID.String()), zap.String("path", path))
			continue
		}
		_, storageKey, err := w.artifacts.Upload(ctx, f)
		f.Close()
		if err != nil {
			w.logger.Warn("upload declared artifact failed", zap.String("run_id", run.ID.String()), zap.String("path", path))
			continue
		}

		out = append(out, runengine.FinishedArtifact{
			Name:        entry.Name(),
			Path:        storageKey,
			SizeBytes:   info.Size(),
			ContentType: mime.TypeByExtension(filepath.Ext(entry.Name())),
		})
	}
	return out
}
