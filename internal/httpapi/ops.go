package httpapi

import (
	"net/http"
	"time"

	"automationhub/internal/enum"
	"automationhub/internal/store"
)

type opsStatusResponse struct {
	TotalWorkers        int     `json:"total_workers"`
	WorkersRunning      int     `json:"workers_running"`
	WorkersPaused       int     `json:"workers_paused"`
	QueueDepth          int     `json:"queue_depth"`
	RunsRunning         int     `json:"runs_running"`
	RunsFailedLastHour  int     `json:"runs_failed_last_hour"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

func (h *handlers) opsStatus(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Store.ListWorkers(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	var running, paused int
	for _, wk := range workers {
		switch wk.Status {
		case enum.WorkerRunning:
			running++
		case enum.WorkerPaused:
			paused++
		}
	}

	depth, err := h.Queue.Depth(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	runningRuns, err := h.Store.ListRuns(r.Context(), store.RunFilter{Status: string(enum.RunRunning)})
	if err != nil {
		writeErr(w, err)
		return
	}

	failedRuns, err := h.Store.ListRuns(r.Context(), store.RunFilter{
		Status: string(enum.RunFailed),
		Since:  time.Now().Add(-time.Hour),
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, opsStatusResponse{
		TotalWorkers:       len(workers),
		WorkersRunning:     running,
		WorkersPaused:      paused,
		QueueDepth:         depth,
		RunsRunning:        len(runningRuns),
		RunsFailedLastHour: len(failedRuns),
		UptimeSeconds:      time.Since(h.StartedAt).Seconds(),
	})
}
