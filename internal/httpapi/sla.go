package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automationhub/internal/store"
	"automationhub/internal/validation"
)

type slaRequest struct {
	ExpectedEveryMinutes int                    `json:"expected_every_minutes"`
	ExpectedDailyTime    string                 `json:"expected_daily_time"`
	LateAfterMinutes     int                    `json:"late_after_minutes"`
	AlertOnFailure       bool                   `json:"alert_on_failure"`
	AlertOnLate          bool                   `json:"alert_on_late"`
	NotifyChannels       map[string]interface{} `json:"notify_channels"`
}

func (h *handlers) upsertSLA(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	var req slaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := validation.Validate("sla", req); err != nil {
		badRequest(w, err.Error())
		return
	}

	rule := &store.SLARule{
		RobotID:              robotID,
		ExpectedEveryMinutes: req.ExpectedEveryMinutes,
		ExpectedDailyTime:    req.ExpectedDailyTime,
		LateAfterMinutes:     req.LateAfterMinutes,
		AlertOnFailure:       req.AlertOnFailure,
		AlertOnLate:          req.AlertOnLate,
		NotifyChannels:       req.NotifyChannels,
	}
	if existing, err := h.Store.GetSLARule(r.Context(), robotID); err == nil {
		rule.ID = existing.ID
	} else if err != store.ErrNotFound {
		writeErr(w, err)
		return
	} else {
		rule.ID = uuid.New()
	}

	if err := h.Store.UpsertSLARule(r.Context(), rule); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *handlers) getSLA(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	rule, err := h.Store.GetSLARule(r.Context(), robotID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
