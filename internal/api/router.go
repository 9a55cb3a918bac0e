package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/alvesdmateus/fleet-commander/internal/hub"
	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
	"github.com/alvesdmateus/fleet-commander/internal/state"
	"github.com/alvesdmateus/fleet-commander/pkg/database"
)

// Deps carries the collaborators the API server routes to
type Deps struct {
	DB           *gorm.DB
	Repo         *state.Repository
	Hub          *hub.Hub
	AgentSocket  *hub.Handler
	Engine       *orchestrator.Engine
	Updater      Updater
	FleetUpdater BroadcastUpdater
	Broadcast    Broadcaster
	Pusher       Pusher
	Scheduler    ScheduleSetter
}

// Server represents the HTTP API server
type Server struct {
	router          *chi.Mux
	db              *gorm.DB
	engine          *orchestrator.Engine
	agentSocket     *hub.Handler
	queueHandler    *QueueHandler
	hostHandler     *HostHandler
	agentHandler    *AgentHandler
	settingsHandler *SettingsHandler
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		db:              deps.DB,
		engine:          deps.Engine,
		agentSocket:     deps.AgentSocket,
		queueHandler:    NewQueueHandler(deps.Engine),
		hostHandler:     NewHostHandler(deps.Repo, deps.Hub, deps.Engine, deps.Updater, deps.Pusher),
		agentHandler:    NewAgentHandler(deps.Engine, deps.Hub, deps.FleetUpdater),
		settingsHandler: NewSettingsHandler(deps.Repo, deps.Broadcast, deps.Scheduler),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RequestLogger)
	s.router.Use(CORSMiddleware())
	s.router.Use(middleware.RealIP)

	// Health check
	s.router.Get("/healthz", s.healthCheck)

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Agent-facing routes
		r.Route("/agents", func(r chi.Router) {
			r.Get("/ws", s.agentSocket.ServeHTTP)
			r.Get("/connections", s.agentHandler.ListConnections)
			r.Post("/version", s.hostHandler.ReportVersion)
			r.Post("/report-now", s.agentHandler.ReportNowAll)
			r.Post("/update-all", s.agentHandler.UpdateAll)
		})

		// Queue inspection
		r.Route("/queues", func(r chi.Router) {
			r.Get("/stats", s.queueHandler.GetAllStats)
			r.Get("/{queue}/jobs", s.queueHandler.GetRecentJobs)
		})

		// Manual triggers
		r.Post("/automations/{name}/trigger", s.queueHandler.TriggerAutomation)

		// Per-host routes
		r.Route("/hosts/{id}", func(r chi.Router) {
			r.Get("/jobs", s.hostHandler.GetHostJobs)
			r.Get("/connection", s.hostHandler.GetConnection)
			r.Get("/connection/stream", s.hostHandler.StreamConnection)
			r.Post("/update", s.hostHandler.UpdateHost)
			r.Post("/self-update", s.hostHandler.SelfUpdate)
		})

		// Settings
		r.Put("/settings/poll-interval", s.settingsHandler.PutPollInterval)
		r.Put("/settings/integrations/{name}", s.settingsHandler.PutIntegration)
	})
}

// healthCheck handles GET /healthz
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := database.HealthCheck(s.db); err != nil {
		dbStatus = "error"
	}

	brokerStatus := "ok"
	if err := s.engine.Ping(r.Context()); err != nil {
		brokerStatus = "error"
	}

	status := "ok"
	if dbStatus != "ok" || brokerStatus != "ok" {
		status = "degraded"
	}

	RespondWithJSON(w, http.StatusOK, HealthResponse{
		Status:   status,
		Database: dbStatus,
		Broker:   brokerStatus,
		Version:  "1.0.0",
	})
}

// Handler returns the http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}
