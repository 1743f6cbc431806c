package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automationhub/internal/contextutil"
	"automationhub/internal/enum"
	"automationhub/internal/runengine"
	"automationhub/internal/store"
	"automationhub/internal/validation"
)

type executeRunRequest struct {
	VersionID        *uuid.UUID        `json:"version_id"`
	RobotVersionID   *uuid.UUID        `json:"robot_version_id"`
	EnvName          enum.EnvName      `json:"env_name"`
	RuntimeArguments []string          `json:"runtime_arguments"`
	RuntimeEnv       map[string]string `json:"runtime_env"`
}

func (h *handlers) executeRun(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}

	var req executeRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := validation.Validate("execute", req); err != nil {
		badRequest(w, err.Error())
		return
	}

	params := map[string]interface{}{}
	if len(req.RuntimeArguments) > 0 {
		args := make([]interface{}, len(req.RuntimeArguments))
		for i, a := range req.RuntimeArguments {
			args[i] = a
		}
		params["arguments"] = args
	}

	triggeredBy := ""
	if caller, err := contextutil.CallerFromSafe(r.Context()); err == nil {
		triggeredBy = caller.Subject
	}

	run, err := h.Engine.CreateRun(r.Context(), runengine.ExecuteRequest{
		RobotID:        robotID,
		VersionID:      req.VersionID,
		RobotVersionID: req.RobotVersionID,
		EnvName:        req.EnvName,
		Parameters:     params,
		RuntimeEnv:     req.RuntimeEnv,
		TriggerType:    enum.TriggerManual,
		TriggeredBy:    triggeredBy,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.RunFilter
	if v := q.Get("robot_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(w, "invalid robot_id")
			return
		}
		f.RobotID = id
	}
	f.Status = q.Get("status")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "invalid offset")
			return
		}
		f.Offset = n
	}

	runs, err := h.Store.ListRuns(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		badRequest(w, "invalid run_id")
		return
	}
	run, err := h.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handlers) getRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		badRequest(w, "invalid run_id")
		return
	}
	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(w, "invalid after_seq")
			return
		}
		afterSeq = n
	}
	logs, err := h.Engine.GetLogsSince(r.Context(), runID, afterSeq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *handlers) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		badRequest(w, "invalid run_id")
		return
	}
	artifactID, err := uuid.Parse(chi.URLParam(r, "artifact_id"))
	if err != nil {
		badRequest(w, "invalid artifact_id")
		return
	}

	artifacts, err := h.Store.ListArtifacts(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	var digest, name, contentType string
	for _, a := range artifacts {
		if a.ID == artifactID {
			// Path holds the storage key "artifacts/<digest>"; Download takes the bare digest.
			digest, name, contentType = strings.TrimPrefix(a.Path, "artifacts/"), a.Name, a.ContentType
			break
		}
	}
	if digest == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}

	body, err := h.Artifacts.Download(r.Context(), digest)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = io.Copy(w, body)
}

func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		badRequest(w, "invalid run_id")
		return
	}
	canceledBy := ""
	if caller, err := contextutil.CallerFromSafe(r.Context()); err == nil {
		canceledBy = caller.Subject
	}
	if err := h.Engine.RequestCancel(r.Context(), runID, canceledBy); err != nil {
		writeErr(w, err)
		return
	}
	run, err := h.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
