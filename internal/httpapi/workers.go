package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automationhub/internal/enum"
)

func (h *handlers) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Store.ListWorkers(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

// setWorkerStatus writes status directly to Store. A remote pause takes
// effect on the worker's very next ClaimNext call, since
// dispatch.Eligible already refuses to claim for a worker whose stored
// Status isn't RUNNING — no separate signalling channel to the worker
// process is needed.
func (h *handlers) setWorkerStatus(w http.ResponseWriter, r *http.Request, status enum.WorkerStatus) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid worker id")
		return
	}
	worker, err := h.Store.GetWorker(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	worker.Status = status
	worker.LastHeartbeat = time.Now()
	if err := h.Store.UpsertWorker(r.Context(), worker); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (h *handlers) pauseWorker(w http.ResponseWriter, r *http.Request) {
	h.setWorkerStatus(w, r, enum.WorkerPaused)
}

func (h *handlers) resumeWorker(w http.ResponseWriter, r *http.Request) {
	h.setWorkerStatus(w, r, enum.WorkerRunning)
}
