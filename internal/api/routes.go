package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router собирает chi-роутер со всеми маршрутами API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		Recovery(h.logger),
		Logging(h.logger),
		Metrics(h.metrics),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowed(w)
	})

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pipeline", h.GetPipeline)
		r.Post("/events", h.ReceiveEvent)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.CreateRun)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRun)
				r.Get("/steps", h.ListRunSteps)
				r.Post("/cancel", h.CancelRun)
			})
		})
	})

	return r
}

// Health сообщает, что сервер жив.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		ActiveRuns: h.orch.ActiveRuns(),
	})
}

// GetPipeline возвращает текущий pipeline.
// GET /api/v1/pipeline
func (h *Handler) GetPipeline(w http.ResponseWriter, _ *http.Request) {
	Success(w, h.orch.Pipeline())
}
