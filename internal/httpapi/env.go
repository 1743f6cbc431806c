package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"automationhub/internal/enum"
	"automationhub/internal/store"
	"automationhub/internal/validation"
)

type envBindingItem struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret"`
}

type envBindingView struct {
	Key      string  `json:"key"`
	Value    *string `json:"value"`
	IsSecret bool    `json:"is_secret"`
	IsSet    bool    `json:"is_set,omitempty"`
}

// listEnvBindings returns bindings for ?env=PROD|HML|TEST, never returning
// plaintext for secret rows (spec §9 "Secrets": GET redacts with
// is_set:true, value:null) — checked here rather than relying on callers
// to never log it, since env values must never reach a response body at
// all for secret rows.
func (h *handlers) listEnvBindings(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	envName := r.URL.Query().Get("env")
	if envName == "" {
		badRequest(w, "env query parameter is required")
		return
	}

	bindings, err := h.Store.ListEnvBindings(r.Context(), robotID, envName)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]envBindingView, 0, len(bindings))
	for _, b := range bindings {
		view := envBindingView{Key: b.Key, IsSecret: b.IsSecret}
		if b.IsSecret {
			view.IsSet = true
		} else {
			v := b.Value
			view.Value = &v
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) putEnvBindings(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	envName := r.URL.Query().Get("env")
	if envName == "" {
		badRequest(w, "env query parameter is required")
		return
	}

	var req struct {
		Items []envBindingItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := validation.Validate("env_bindings", req); err != nil {
		badRequest(w, err.Error())
		return
	}

	for _, item := range req.Items {
		value := item.Value
		if item.IsSecret && h.Cipher != nil && h.Cipher.Enabled() {
			encrypted, err := h.Cipher.Encrypt(value)
			if err != nil {
				writeErr(w, err)
				return
			}
			value = encrypted
		}
		err := h.Store.UpsertEnvBinding(r.Context(), &store.RobotEnvBinding{
			RobotID:  robotID,
			EnvName:  enum.EnvName(envName),
			Key:      item.Key,
			Value:    value,
			IsSecret: item.IsSecret,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteEnvBinding(w http.ResponseWriter, r *http.Request) {
	robotID, err := uuid.Parse(chi.URLParam(r, "robot_id"))
	if err != nil {
		badRequest(w, "invalid robot_id")
		return
	}
	envName := r.URL.Query().Get("env")
	if envName == "" {
		badRequest(w, "env query parameter is required")
		return
	}
	key := chi.URLParam(r, "key")

	if err := h.Store.DeleteEnvBinding(r.Context(), robotID, envName, key); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
