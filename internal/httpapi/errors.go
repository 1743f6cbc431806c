package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"automationhub/internal/runengine"
	"automationhub/internal/store"
)

type handlers struct {
	Deps
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var rerr *runengine.Error
	if errors.As(err, &rerr) {
		writeJSON(w, statusForKind(rerr.Kind), map[string]string{"error": rerr.Msg})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func statusForKind(k runengine.Kind) int {
	switch k {
	case runengine.KindValidation:
		return http.StatusBadRequest
	case runengine.KindNotFound:
		return http.StatusNotFound
	case runengine.KindConflict:
		return http.StatusConflict
	case runengine.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case runengine.KindTransient:
		return http.StatusServiceUnavailable
	case runengine.KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
