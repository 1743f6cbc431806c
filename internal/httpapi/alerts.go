package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// listAlerts serves spec §6's GET /alerts. Store only exposes
// ListOpenAlerts (resolved alerts are read through the same AlertEvent
// rows but nothing currently retains a separate resolved-alert index), so
// status=resolved can only ever report the empty set here; a resolved
// listing needs a ListAlerts(filter) addition to Store to do better.
func (h *handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Store.ListOpenAlerts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	status := r.URL.Query().Get("status")
	alertType := r.URL.Query().Get("type")

	out := make([]interface{}, 0, len(alerts))
	for _, a := range alerts {
		if status == "resolved" && a.ResolvedAt == nil {
			continue
		}
		if status == "open" && a.ResolvedAt != nil {
			continue
		}
		if alertType != "" && string(a.Type) != alertType {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid alert id")
		return
	}
	if err := h.Store.ResolveAlert(r.Context(), id, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
