package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automationhub/internal/store"
	"automationhub/internal/validation"
)

type scheduleRequest struct {
	Enabled             bool   `json:"enabled"`
	CronExpr            string `json:"cron_expr"`
	Timezone            string `json:"timezone"`
	WindowStart         string `json:"window_start"`
	WindowEnd           string `json:"window_end"`
	MaxConcurrency      int    `json:"max_concurrency"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	RetryCount          int    `json:"retry_count"`
	RetryBackoffSeconds int    `json:"retry_backoff_seconds"`
}

func (h *handlers) upsertSchedule(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := validation.Validate("schedule", req); err != nil {
		badRequest(w, err.Error())
		return
	}

	sched := &store.Schedule{
		RobotID:             robotID,
		Enabled:             req.Enabled,
		CronExpr:            req.CronExpr,
		Timezone:            req.Timezone,
		WindowStart:         req.WindowStart,
		WindowEnd:           req.WindowEnd,
		MaxConcurrency:      req.MaxConcurrency,
		TimeoutSeconds:      req.TimeoutSeconds,
		RetryCount:          req.RetryCount,
		RetryBackoffSeconds: req.RetryBackoffSeconds,
	}
	if existing, err := h.Store.GetSchedule(r.Context(), robotID); err == nil {
		sched.ID = existing.ID
		sched.LastTickAt = existing.LastTickAt
	} else if err != store.ErrNotFound {
		writeErr(w, err)
		return
	} else {
		sched.ID = uuid.New()
	}

	if err := h.Store.UpsertSchedule(r.Context(), sched); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	sched, err := h.Store.GetSchedule(r.Context(), robotID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	sched, err := h.Store.GetSchedule(r.Context(), robotID)
	if err != nil {
		writeErr(w, err)
		return
	}
	sched.Enabled = false
	if err := h.Store.UpsertSchedule(r.Context(), sched); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
