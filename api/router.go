package api

import (
	"compress/flate"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/veridash/vd-analysis-queue/api/batch"
	"github.com/veridash/vd-analysis-queue/api/metrics"
	api_middleware "github.com/veridash/vd-analysis-queue/api/middleware"
	"github.com/veridash/vd-analysis-queue/api/routes"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/config"
)

// NewRouter returns a chi router with endpoints registered.
func NewRouter(cfg config.Config, orchestrator *batch.Orchestrator, gate *selection.Gate, m *metrics.Metrics) (chi.Router, error) {

	// Setup the router and configure baseline middleware
	r := chi.NewRouter()

	r.Use(api_middleware.Logger(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(flate.DefaultCompression))

	// Configure CORS handling - the dashboard is a browser app
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Route("/analysis", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/batch", routes.StartBatch(&cfg, orchestrator))
		r.Get("/batch/{runID}", routes.BatchProgress(&cfg, orchestrator))
		r.Post("/batch/{runID}/cancel", routes.CancelBatch(&cfg, orchestrator))
		r.Post("/date/{date}", routes.AnalyzeDay(&cfg, orchestrator))
		r.Post("/redo-summaries", routes.RedoSummaries(&cfg, orchestrator))
		r.Get("/selection", routes.CurrentSelection(&cfg, gate))
		r.Post("/selection/{date}/confirm", routes.ConfirmSelection(&cfg, gate))
		r.Post("/selection/{date}/skip", routes.SkipSelection(&cfg, gate))
	})

	r.Handle("/metrics", m.Handler())

	return r, nil
}
