package api

import (
	"net/http"

	"flowtrack/internal/auth"
	"flowtrack/internal/metrics"
	"flowtrack/internal/pubsub"
	"flowtrack/internal/repo"
	"flowtrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Dependencies struct {
	Store       repo.Store
	Editor      *service.EditorService
	Snapshots   *service.SnapshotService
	Assignments *service.AssignmentCoordinator
	Engine      *service.ProgressEngine
	Dispatcher  service.Dispatcher
	// Streams serves fact replay; nil when running without Redis.
	Streams  *pubsub.Streams
	Metrics  metrics.Collector
	Gatherer prometheus.Gatherer
	JWT      *auth.JWTConfig
	Log      *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))

	r.Get("/healthz", d.healthz)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(d.JWT.Middleware)
		r.Use(auth.RequireUser)

		// Flow editing
		r.Post("/flows", d.createFlow)
		r.Get("/flows/{id}", d.getFlow)
		r.Post("/flows/{id}/steps", d.addStep)
		r.Post("/flows/{id}/publish", d.publishFlow)
		r.Post("/flows/{id}/archive", d.archiveFlow)
		r.Post("/steps/{id}/components", d.addComponent)
		r.Post("/items/{id}/reorder", d.reorderItem)

		// Snapshots
		r.Post("/flows/{id}/snapshots", d.createSnapshot)
		r.Get("/flows/{id}/snapshots", d.listSnapshots)
		r.Get("/snapshots/{id}", d.getSnapshot)
		r.Get("/snapshots/{id}/integrity", d.snapshotIntegrity)
		r.Post("/snapshots/cleanup", d.cleanupSnapshots)

		// Assignments
		r.Post("/assignments", d.assignFlow)
		r.Get("/assignments/{id}", d.getAssignment)
		r.Get("/assignments/{id}/snapshot", d.assignmentSnapshot)
		r.Get("/assignments/{id}/progress", d.assignmentProgress)
		r.Post("/assignments/{id}/cancel", d.cancelAssignment)
		r.Post("/assignments/{id}/pause", d.pauseAssignment)
		r.Post("/assignments/{id}/resume", d.resumeAssignment)
		r.Post("/assignments/{id}/components/{componentId}/start", d.startComponent)
		r.Get("/users/{id}/assignments", d.listAssignments)

		// Progress
		r.Get("/progress/components/{id}", d.getComponentProgress)
		r.Post("/progress/components/{id}", d.recordProgress)
		r.Get("/progress/flows/{id}", d.getFlowProgress)
		r.Post("/progress/flows/{id}/unlock-next", d.unlockNext)

		// Fact replay
		r.Get("/facts", d.replayFacts)
		r.Post("/facts/ack", d.ackFacts)
	})

	return r
}

func (d Dependencies) healthz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "Store unavailable", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
