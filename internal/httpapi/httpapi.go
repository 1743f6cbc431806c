// Package httpapi wires the REST + WebSocket surface spec §6 names onto a
// github.com/go-chi/chi/v5 router, reusing the teacher's middleware stack
// (request logging, panic recovery, request id, real ip, compression) plus
// github.com/go-chi/cors for the dashboard origin allowlist and
// github.com/go-chi/httprate to rate-limit the two caller-triggered,
// unbounded-in-principle entry points into the run lifecycle.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"automationhub/internal/artifactstore"
	"automationhub/internal/auth"
	"automationhub/internal/cipher"
	"automationhub/internal/logbus"
	"automationhub/internal/queue"
	"automationhub/internal/runengine"
	"automationhub/internal/store"
)

// Deps bundles every collaborator the route handlers need.
type Deps struct {
	Store      store.Store
	Engine     *runengine.Engine
	LogBus     *logbus.LogBus
	Queue      queue.Queue
	Artifacts  artifactstore.Store
	Cipher     cipher.Cipher
	DeployToken string
	CORSOrigins []string
	Logger     *zap.Logger
	StartedAt  time.Time
}

// NewRouter builds the full chi.Mux described in spec §6.
func NewRouter(d Deps) *chi.Mux {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(zapRequestLogger(d.Logger))
	r.Use(chimw.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-deploy-token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Middleware)

	r.Get("/health", h.health)

	r.Route("/api/v1", func(api chi.Router) {
		api.With(httprate.Limit(30, time.Minute, httprate.WithKeyByRealIP())).
			Post("/runs/{robot_id}/execute", h.executeRun)
		api.Get("/runs", h.listRuns)
		api.Get("/runs/{run_id}", h.getRun)
		api.Get("/runs/{run_id}/logs", h.getRunLogs)
		api.Get("/runs/{run_id}/artifacts/{artifact_id}/download", h.downloadArtifact)
		api.Post("/runs/{run_id}/cancel", h.cancelRun)

		api.Post("/robots/{robot_id}/versions/publish", h.publishVersion)
		api.With(auth.RequireDeployToken(d.DeployToken), httprate.Limit(30, time.Minute, httprate.WithKeyByRealIP())).
			Post("/deploy/robots/{robot_id}/versions/publish", h.deployPublishVersion)
		api.Post("/robots/{robot_id}/versions/{version_id}/activate", h.activateVersion)

		api.Route("/robots/{robot_id}/schedule", func(sr chi.Router) {
			sr.Post("/", h.upsertSchedule)
			sr.Get("/", h.getSchedule)
			sr.Patch("/", h.upsertSchedule)
			sr.Delete("/", h.deleteSchedule)
		})
		api.Route("/robots/{robot_id}/sla", func(sr chi.Router) {
			sr.Post("/", h.upsertSLA)
			sr.Get("/", h.getSLA)
			sr.Patch("/", h.upsertSLA)
		})
		api.Get("/robots/{robot_id}/env", h.listEnvBindings)
		api.Put("/robots/{robot_id}/env", h.putEnvBindings)
		api.Delete("/robots/{robot_id}/env/{key}", h.deleteEnvBinding)

		api.Get("/workers", h.listWorkers)
		api.Post("/workers/{id}/pause", h.pauseWorker)
		api.Post("/workers/{id}/resume", h.resumeWorker)

		api.Get("/ops/status", h.opsStatus)

		api.Get("/alerts", h.listAlerts)
		api.Post("/alerts/{id}/resolve", h.resolveAlert)
	})

	r.Get("/ws/runs/{run_id}/logs", h.streamLogs)

	return r
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func zapRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
