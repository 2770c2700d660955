// Package server composes the Core HTTP API under /api/v1.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/metrics"
	"github.com/yasasalwis/Naga-7/internal/modules/agentconfig"
	"github.com/yasasalwis/Naga-7/internal/modules/agents"
	"github.com/yasasalwis/Naga-7/internal/modules/alerts"
	"github.com/yasasalwis/Naga-7/internal/modules/deployment"
	"github.com/yasasalwis/Naga-7/internal/modules/events"
	"github.com/yasasalwis/Naga-7/internal/modules/intel"
	"github.com/yasasalwis/Naga-7/internal/modules/users"
)

// LLMHealth reports the analyzer state for the health endpoint
type LLMHealth interface {
	Health(ctx context.Context) map[string]interface{}
}

// Config holds server configuration
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger

	UserService  *users.Service
	AgentService *agents.Service

	UserHandlers       *users.Handler
	AgentHandlers      *agents.Handler
	ConfigHandlers     *agentconfig.Handler
	EventHandlers      *events.Handler
	AlertHandlers      *alerts.Handler
	IntelHandlers      *intel.Handler
	DeploymentHandlers *deployment.Handler
	AlertStream        *AlertStream
	LLM                LLMHealth
}

// Server is the Core HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "http_server").Logger(),
		cfg:    cfg,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", agents.APIKeyHeader},
	}))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Operator auth
		r.Post("/token", s.cfg.UserHandlers.HandleToken)
		r.Post("/users/", s.cfg.UserHandlers.HandleCreate)
		r.With(s.cfg.UserService.RequireBearer).Get("/users/me", s.cfg.UserHandlers.HandleMe)

		// Agent lifecycle
		r.Route("/agents", func(r chi.Router) {
			r.Post("/register", s.cfg.AgentHandlers.HandleRegister)
			r.With(s.cfg.AgentService.RequireAPIKey).Post("/heartbeat", s.cfg.AgentHandlers.HandleHeartbeatHTTP)

			r.Group(func(r chi.Router) {
				r.Use(s.cfg.UserService.RequireBearer)
				r.Get("/", s.cfg.AgentHandlers.HandleList)
				r.Get("/strikers", s.cfg.AgentHandlers.HandleListStrikers)
				r.Put("/{id}", s.cfg.AgentHandlers.HandleUpdate)
				r.Get("/{id}/config", s.cfg.ConfigHandlers.HandleGetView)
				r.Put("/{id}/config", s.cfg.ConfigHandlers.HandleUpdate)
			})
		})

		// Agent-facing config (transport-encrypted secrets)
		r.With(s.cfg.AgentService.RequireAPIKey).
			Get("/agent-config/{id}/config", s.cfg.ConfigHandlers.HandleGetForAgent)

		// Telemetry and alerts
		r.Get("/events/", s.cfg.EventHandlers.HandleList)
		r.Post("/events/{id}/strike", s.cfg.EventHandlers.HandleStrike)
		r.Get("/alerts/", s.cfg.AlertHandlers.HandleList)
		r.Get("/alerts/stream", s.cfg.AlertStream.HandleWebSocket)
		r.Get("/alerts/{id}", s.cfg.AlertHandlers.HandleGet)
		r.Post("/alerts/{id}/dispatch", s.cfg.AlertHandlers.HandleDispatch)

		// Threat intel introspection
		r.Get("/threat-intel/stats", s.cfg.IntelHandlers.HandleStats)
		r.Get("/threat-intel/lookup", s.cfg.IntelHandlers.HandleLookup)

		// Infra discovery / deployment (registry only)
		r.Post("/deployment/scan", s.cfg.DeploymentHandlers.HandleScan)
		r.Get("/deployment/nodes", s.cfg.DeploymentHandlers.HandleListNodes)
		r.Post("/deployment/nodes", s.cfg.DeploymentHandlers.HandleCreateNode)
		r.Post("/deployment/nodes/{id}/deploy", s.cfg.DeploymentHandlers.HandleDeploy)

		r.Get("/health", s.handleHealth)
	})
}

// handleHealth reports liveness plus the analyzer state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	llm := map[string]interface{}{"status": "unconfigured"}
	if s.cfg.LLM != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		llm = s.cfg.LLM.Health(ctx)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"llm":    llm,
	})
}

// Router exposes the composed router. Tests only.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving. Blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
