package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automationhub/internal/enum"
	"automationhub/internal/store"
	"automationhub/internal/validation"
)

const maxPublishBytes = 512 << 20 // 512MB artifact upload ceiling

type publishForm struct {
	Version         string
	Channel         string
	Changelog       string
	EntrypointPath  string
	EntrypointKind  string
	ArtifactKind    string
	Activate        bool
	RequiredEnvKeys []string
	CommitSHA       string
	Branch          string
	BuildURL        string
}

func parsePublishForm(r *http.Request) (publishForm, []byte, error) {
	if err := r.ParseMultipartForm(maxPublishBytes); err != nil {
		return publishForm{}, nil, err
	}
	f := publishForm{
		Version:        r.FormValue("version"),
		Channel:        r.FormValue("channel"),
		Changelog:      r.FormValue("changelog"),
		EntrypointPath: r.FormValue("entrypoint_path"),
		EntrypointKind: r.FormValue("entrypoint_type"),
		ArtifactKind:   r.FormValue("artifact_kind"),
		Activate:       r.FormValue("activate") == "true",
		CommitSHA:      r.FormValue("commit_sha"),
		Branch:         r.FormValue("branch"),
		BuildURL:       r.FormValue("build_url"),
	}
	if keys := r.FormValue("required_env_keys"); keys != "" {
		f.RequiredEnvKeys = strings.Split(keys, ",")
	}

	file, _, err := r.FormFile("artifact")
	if err != nil {
		return f, nil, err
	}
	defer file.Close()

	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32<<10)
	for {
		n, rerr := file.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return f, buf, nil
}

func (h *handlers) publish(w http.ResponseWriter, r *http.Request, sourceCreated enum.SourceCreated) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBytes)
	form, artifact, err := parsePublishForm(r)
	if err != nil {
		badRequest(w, "invalid multipart form: "+err.Error())
		return
	}

	if err := validation.Validate("publish", map[string]interface{}{
		"version":           form.Version,
		"channel":           form.Channel,
		"artifact_kind":     form.ArtifactKind,
		"entrypoint_kind":   form.EntrypointKind,
		"entrypoint_path":   form.EntrypointPath,
		"required_env_keys": form.RequiredEnvKeys,
	}); err != nil {
		badRequest(w, err.Error())
		return
	}

	digest, _, err := h.Artifacts.Upload(r.Context(), byteReader(artifact))
	if err != nil {
		writeErr(w, err)
		return
	}

	version := &store.RobotVersion{
		ID:              uuid.New(),
		RobotID:         robotID,
		Version:         form.Version,
		Channel:         enum.Channel(form.Channel),
		ArtifactKind:    enum.ArtifactKind(form.ArtifactKind),
		ArtifactDigest:  digest,
		EntrypointKind:  enum.EntrypointKind(form.EntrypointKind),
		EntrypointPath:  form.EntrypointPath,
		RequiredEnvKeys: form.RequiredEnvKeys,
		SourceCommit:    form.CommitSHA,
		SourceBranch:    form.Branch,
		SourceBuildURL:  form.BuildURL,
		SourceCreated:   sourceCreated,
		IsActive:        form.Activate,
		CreatedAt:       time.Now(),
	}
	if err := h.Store.CreateRobotVersion(r.Context(), version); err != nil {
		writeErr(w, err)
		return
	}
	if form.Activate {
		if err := h.Store.SetActiveRobotVersion(r.Context(), robotID, form.Channel, version.ID); err != nil {
			writeErr(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, version)
}

func (h *handlers) publishVersion(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, enum.SourceCreatedUser)
}

func (h *handlers) deployPublishVersion(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, enum.SourceCreatedCI)
}

func (h *handlers) activateVersion(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	versionID, err := uuid.Parse(chi.URLParam(r, "version_id"))
	if err != nil {
		badRequest(w, "invalid version_id")
		return
	}
	version, err := h.Store.GetRobotVersion(r.Context(), versionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.Store.SetActiveRobotVersion(r.Context(), robotID, string(version.Channel), versionID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}
