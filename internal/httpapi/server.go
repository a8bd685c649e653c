// Package httpapi exposes the governance core's read-only status surface:
// the gov-plan / gov-regime / gov-tripwire / gov-metrics HTTP endpoints
// polled by the CLI's status subcommands, a push WebSocket feed for the
// same events, and a Prometheus /metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// StatusProvider is the read-only view of governance state the server
// renders. It is satisfied by a thin adapter wired in cmd/govctl over the
// live Governor/Detector/Service/Scorekeeper instances, keeping this
// package free of any direct dependency on them.
type StatusProvider interface {
	AccountStatus() (types.AccountState, bool)
	ActivePlan() (*types.StrategyPlanCard, bool)
	CurrentRegime() types.RegimeClassification
	LatestTripwireEvents() []types.TripwireEvent
	ActiveMetrics() (types.PlanMetrics, bool)
	CompletedPlans() ([]types.PlanMetrics, error)
}

// Config sets the listen address.
type Config struct {
	Addr string
}

// Server is the HTTP/WebSocket status server.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *hub
	status     StatusProvider
	metrics    *metricsRegistry
}

// New builds a Server. Call Publish* methods as governance events occur
// to push them to connected WebSocket clients; HTTP polling endpoints
// always read straight through to status.
func New(cfg Config, status StatusProvider, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.Named("httpapi"),
		router:  mux.NewRouter(),
		hub:     newHub(logger.Named("httpapi.hub")),
		status:  status,
		metrics: newMetricsRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/gov/plan", s.handleGovPlan).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/gov/regime", s.handleGovRegime).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/gov/tripwire", s.handleGovTripwire).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/gov/metrics", s.handleGovMetrics).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the HTTP server and the event hub until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", zap.String("addr", s.cfg.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, ok := s.status.AccountStatus()
	if !ok {
		http.Error(w, "account state not yet available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleGovPlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.status.ActivePlan()
	if !ok {
		writeJSON(w, map[string]any{"status": "no_active_plan"})
		return
	}
	writeJSON(w, plan)
}

func (s *Server) handleGovRegime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status.CurrentRegime())
}

func (s *Server) handleGovTripwire(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"events": s.status.LatestTripwireEvents()})
}

func (s *Server) handleGovMetrics(w http.ResponseWriter, r *http.Request) {
	active, hasActive := s.status.ActiveMetrics()
	completed, err := s.status.CompletedPlans()
	if err != nil {
		http.Error(w, fmt.Sprintf("loading completed plans: %v", err), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"completed_plans": completed}
	if hasActive {
		resp["active_plan"] = active
	}
	writeJSON(w, resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.New().String(), hub: s.hub, conn: conn, send: make(chan []byte, 64)}
	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}

// PublishPlanActivated pushes a plan-activation event to WebSocket clients.
func (s *Server) PublishPlanActivated(plan *types.StrategyPlanCard) {
	s.hub.publish(EventPlanActivated, plan)
}

// PublishRebalanceStep pushes a rebalance-progress event.
func (s *Server) PublishRebalanceStep(schedule types.RebalanceSchedule) {
	s.hub.publish(EventRebalanceStep, schedule)
}

// PublishRegimeChanged pushes a confirmed regime change.
func (s *Server) PublishRegimeChanged(classification types.RegimeClassification) {
	s.hub.publish(EventRegimeChanged, classification)
	s.metrics.observeRegimeConfidence(classification.Confidence)
}

// PublishTripwireTriggered pushes tripwire events as they fire.
func (s *Server) PublishTripwireTriggered(events []types.TripwireEvent) {
	if len(events) == 0 {
		return
	}
	s.hub.publish(EventTripwireTriggered, events)
	s.metrics.incTripwireEvents(len(events))
}

// PublishMetricsUpdate pushes the active plan's latest scorekeeper snapshot
// and updates the corresponding Prometheus gauges.
func (s *Server) PublishMetricsUpdate(metrics types.PlanMetrics) {
	s.hub.publish(EventMetricsUpdate, metrics)
	s.metrics.observePlanMetrics(metrics)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
