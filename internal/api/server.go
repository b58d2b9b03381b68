// Package api is the REST surface of the dialer: dial-out endpoints,
// call record queries and the health probe.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialhub/dialhub/internal/api/middleware"
	"github.com/dialhub/dialhub/internal/call"
	"github.com/dialhub/dialhub/internal/config"
	"github.com/dialhub/dialhub/internal/database"
	"github.com/dialhub/dialhub/internal/telephony"
)

// ActiveCallsProvider exposes which calls a flow has in flight.
type ActiveCallsProvider interface {
	ActiveCalls() int
	ActiveCallIDs() []string
}

// ConnStatusProvider exposes the control-plane connection health.
type ConnStatusProvider interface {
	Status() (telephony.Status, string)
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	client     telephony.Client
	conn       ConnStatusProvider
	reconciler *call.Reconciler
	ai         ActiveCallsProvider
	manual     ActiveCallsProvider

	calls     database.CallRepository
	events    database.CallEventRepository
	contacts  database.ContactRepository
	campaigns database.CampaignRepository

	limiter  *middleware.IPRateLimiter
	registry *prometheus.Registry
}

// Deps bundles the server's collaborators.
type Deps struct {
	Client     telephony.Client
	Conn       ConnStatusProvider
	Reconciler *call.Reconciler
	AI         ActiveCallsProvider
	Manual     ActiveCallsProvider
	Calls      database.CallRepository
	Events     database.CallEventRepository
	Contacts   database.ContactRepository
	Campaigns  database.CampaignRepository
	Registry   *prometheus.Registry
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		client:     deps.Client,
		conn:       deps.Conn,
		reconciler: deps.Reconciler,
		ai:         deps.AI,
		manual:     deps.Manual,
		calls:      deps.Calls,
		events:     deps.Events,
		contacts:   deps.Contacts,
		campaigns:  deps.Campaigns,
		limiter:    middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		registry:   deps.Registry,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures the middleware stack and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if origins := middleware.ParseCORSOrigins(s.cfg.CORSOrigins); len(origins) > 0 {
		r.Use(middleware.CORS(origins))
	}
	r.Use(middleware.RateLimit(s.limiter))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/calls", func(r chi.Router) {
			if s.cfg.JWTSecret != "" {
				r.Use(middleware.RequireAgentAuth([]byte(s.cfg.JWTSecret)))
			}
			r.Post("/ai", s.handleDialAI)
			r.Post("/manual", s.handleDialManual)
			r.Get("/", s.handleListCalls)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCall)
				r.Get("/events", s.handleListCallEvents)
			})
		})
	})

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{},
		))
	}
}
