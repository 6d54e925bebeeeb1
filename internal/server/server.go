// Package server exposes the decision-genealogy query API over HTTP.
// The surface is read-heavy and tiered: Browse, Explore, Deep Context,
// plus the ingestion endpoints that feed the graph.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/engine"
	"github.com/decisiontrace/lineage/internal/metrics"
	"github.com/decisiontrace/lineage/internal/tiers"
)

// Server is the lineage HTTP API server.
type Server struct {
	engine   *engine.Engine
	tiers    *tiers.Controller
	metrics  *metrics.Metrics
	validate *validator.Validate
	log      *zap.Logger
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a Server. metrics may be nil; the /metrics route is then
// omitted.
func New(eng *engine.Engine, ctrl *tiers.Controller, m *metrics.Metrics, log *zap.Logger, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine:   eng,
		tiers:    ctrl,
		metrics:  m,
		validate: validator.New(),
		log:      log.Named("http"),
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)

	r.Route("/decisions", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/recent", s.handleRecent)
		r.Get("/search", s.handleSearch)
		r.Get("/types", s.handleTypes)
		r.Post("/", s.handleCreateDecision)

		r.Route("/{id:[0-9]+}", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/neighborhood", s.handleNeighborhood)
			r.Get("/context", s.handleContext)
			r.Post("/relationships", s.handleCreateRelationship)
			r.Delete("/", s.handleDelete)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router = r
}
