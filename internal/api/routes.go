// Package api serves the daemon's supplemental read-only HTTP mirror: a JSON
// snapshot of task.State for dashboards/tooling and a websocket feed of the
// daemon's lifecycle events. It is not the client/daemon protocol — that is
// the encrypted socket in internal/transport (C6) — so nothing here mutates
// state; it exists purely for observability, matching the teacher's own
// separation of its API server from its worker pool (internal/api/routes.go).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiMiddleware "github.com/pueued/pueued/internal/api/middleware"
	"github.com/pueued/pueued/internal/api/websocket"
	"github.com/pueued/pueued/internal/config"
	"github.com/pueued/pueued/internal/events"
	"github.com/pueued/pueued/internal/task"
)

// StateSource is the read-only view the mirror needs from the daemon: a
// locked snapshot of the current State. internal/daemon.Daemon satisfies
// this (see its Snapshot method), kept as a narrow interface here so this
// package never imports internal/daemon.
type StateSource interface {
	Snapshot() *task.State
}

// Server is the HTTP mirror: status/healthz/metrics/ws, nothing else.
type Server struct {
	router    *chi.Mux
	state     StateSource
	config    *config.Config
	wsHub     *websocket.Hub
	wsHandler *websocket.Handler
	publisher events.Publisher
}

// NewServer builds the mirror's router, wiring state for the status routes
// and publisher for /ws, the way the teacher wires its queue and pub/sub
// into one HTTP server.
func NewServer(cfg *config.Config, state StateSource, publisher events.Publisher) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:    chi.NewRouter(),
		state:     state,
		config:    cfg,
		wsHub:     wsHub,
		wsHandler: websocket.NewHandler(wsHub),
		publisher: publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(apiMiddleware.RequestMetrics())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/healthz"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		if s.config.Daemon.StatusRateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Daemon.StatusRateLimitRPS))
		}
		r.Get("/status", s.handleStatus)
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{taskID}", s.handleTask)
		r.Get("/groups", s.handleGroups)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// handleStatus mirrors the full daemon State, the HTTP equivalent of the
// socket protocol's Status request (spec.md §4.5).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	ids := snap.SortedTaskIDs()
	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, snap.Tasks[id])
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "taskID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}
	t, ok := s.state.Snapshot().Tasks[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot().Groups)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start starts the websocket hub's event-fan-out loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the websocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router, e.g. for tests or http.Server.Handler.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
