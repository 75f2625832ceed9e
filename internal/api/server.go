// api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"piperoute-system/internal/config"
	"piperoute-system/internal/domain"
	"piperoute-system/internal/export"
	"piperoute-system/internal/infrastructure"
	"piperoute-system/internal/messaging"
	"piperoute-system/internal/repository"
	"piperoute-system/internal/simulation"
	"piperoute-system/pkg/stress"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Server struct {
	router     *mux.Router
	runRepo    repository.RunRepository
	reportRepo repository.ReportRepository
	msgClient  messaging.MessageClient
	config     *config.Config
	validator  *validator.Validate
	logger     *zap.Logger
	server     *http.Server

	hub     *Hub
	stepper *simulation.Stepper
	reader  *infrastructure.ModelReader
	history *export.HistoryWriter

	mu    sync.RWMutex
	model *domain.PipeModel
	last  *simulation.Result
}

type Option func(*serverOptions)

type serverOptions struct {
	scheduler simulation.Scheduler
	noise     stress.NoiseSource
	sinks     []simulation.Sink
	logger    *zap.Logger
}

// WithScheduler replaces the wall-clock ticker driving live simulations.
func WithScheduler(s simulation.Scheduler) Option {
	return func(o *serverOptions) { o.scheduler = s }
}

func WithNoise(n stress.NoiseSource) Option {
	return func(o *serverOptions) { o.noise = n }
}

// WithSink adds a snapshot consumer next to the websocket hub.
func WithSink(s simulation.Sink) Option {
	return func(o *serverOptions) { o.sinks = append(o.sinks, s) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

func NewServer(runRepo repository.RunRepository, reportRepo repository.ReportRepository,
	msgClient messaging.MessageClient, cfg *config.Config, opts ...Option) *Server {

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Server{
		router:     mux.NewRouter(),
		runRepo:    runRepo,
		reportRepo: reportRepo,
		msgClient:  msgClient,
		config:     cfg,
		validator:  validator.New(),
		logger:     o.logger,
		hub:        NewHub(o.logger),
		reader:     infrastructure.NewModelReader(o.logger),
		history:    export.NewHistoryWriter(o.logger),
		model:      &domain.PipeModel{Pipes: []*domain.PipeSegment{}},
	}

	sinks := append(simulation.MultiSink{s.hub}, o.sinks...)
	s.stepper = simulation.NewStepper(simulation.Options{
		Interval:           cfg.TickInterval,
		TransitionDuration: cfg.TransitionDuration,
		Scheduler:          o.scheduler,
		Noise:              o.noise,
		Sink:               sinks,
		OnComplete:         s.onComplete,
		Logger:             o.logger,
	})
	s.hub.OnControl(s.control)

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) setupRoutes() {
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()

	// Pipe model
	apiRouter.HandleFunc("/model", s.uploadModel).Methods("POST")
	apiRouter.HandleFunc("/model", s.getModel).Methods("GET")
	apiRouter.HandleFunc("/model/pipes/{id}", s.editPipe).Methods("PUT")

	// Live simulation
	apiRouter.HandleFunc("/simulation/start", s.startSimulation).Methods("POST")
	apiRouter.HandleFunc("/simulation/pause", s.pauseSimulation).Methods("POST")
	apiRouter.HandleFunc("/simulation/resume", s.resumeSimulation).Methods("POST")
	apiRouter.HandleFunc("/simulation/step", s.stepSimulation).Methods("POST")
	apiRouter.HandleFunc("/simulation/reset", s.resetSimulation).Methods("POST")
	apiRouter.HandleFunc("/simulation/state", s.simulationState).Methods("GET")
	apiRouter.HandleFunc("/simulation/summary", s.simulationSummary).Methods("GET")
	apiRouter.HandleFunc("/simulation/history", s.simulationHistory).Methods("GET")
	apiRouter.HandleFunc("/simulation/history.csv", s.historyCSV).Methods("GET")
	apiRouter.HandleFunc("/simulation/report", s.simulationReport).Methods("GET")
	apiRouter.HandleFunc("/simulation/report.csv", s.reportCSV).Methods("GET")
	apiRouter.HandleFunc("/simulation/report.xlsx", s.reportWorkbook).Methods("GET")
	apiRouter.HandleFunc("/simulation/critical-points", s.criticalPoints).Methods("GET")

	// Queued runs
	apiRouter.HandleFunc("/runs", s.createRun).Methods("POST")
	apiRouter.HandleFunc("/runs", s.listRuns).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", s.getRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/report", s.getRunReport).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/csv", s.getRunCSV).Methods("GET")
	apiRouter.HandleFunc("/reports", s.listReports).Methods("GET")

	s.router.Handle("/ws", s.hub)
	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	s.router.HandleFunc("/docs", s.apiDocs).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		// health checks and the state poll would flood the log
		if r.URL.Path != "/health" && r.URL.Path != "/api/v1/simulation/state" {
			s.logger.Info("Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered", zap.Any("panic", err), zap.String("path", r.URL.Path))
				s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "healthy",
		"service":   "simulation-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) apiDocs(w http.ResponseWriter, r *http.Request) {
	docs := map[string]any{
		"title":       "Pipe Stress Simulation API",
		"description": "Live stress simulation of routed pipe segments with queued batch runs",
		"version":     "1.0.0",
		"endpoints": map[string]any{
			"POST /api/v1/model":                     "Upload a pipe model (JSON or YAML)",
			"GET /api/v1/model":                      "Current pipe model",
			"PUT /api/v1/model/pipes/{id}":           "Edit a pipe while no simulation runs",
			"POST /api/v1/simulation/start":          "Start a live simulation",
			"POST /api/v1/simulation/pause":          "Pause the live simulation",
			"POST /api/v1/simulation/resume":         "Resume the live simulation",
			"POST /api/v1/simulation/step":           "Advance one step and pause",
			"POST /api/v1/simulation/reset":          "Cancel the live simulation",
			"GET /api/v1/simulation/state":           "Simulation state",
			"GET /api/v1/simulation/summary":         "Per-pipe stress statistics",
			"GET /api/v1/simulation/history":         "Recorded history",
			"GET /api/v1/simulation/history.csv":     "History as CSV",
			"GET /api/v1/simulation/report":          "Report of the last completed run",
			"GET /api/v1/simulation/report.csv":      "Report as CSV",
			"GET /api/v1/simulation/report.xlsx":     "Report and history workbook",
			"GET /api/v1/simulation/critical-points": "Pipes above the elevated threshold",
			"POST /api/v1/runs":                      "Queue a batch run",
			"GET /api/v1/runs":                       "List batch runs",
			"GET /api/v1/runs/{id}":                  "Get batch run by ID",
			"GET /api/v1/runs/{id}/report":           "Stored report of a batch run",
			"GET /api/v1/runs/{id}/csv":              "History CSV of a batch run",
			"GET /api/v1/reports":                    "List stored reports",
			"GET /ws":                                "Snapshot stream",
		},
		"status_codes": []domain.RunStatus{
			domain.RunStatusPending,
			domain.RunStatusProcessing,
			domain.RunStatusSuccess,
			domain.RunStatusError,
			domain.RunStatusCancelled,
		},
	}

	s.respondWithJSON(w, http.StatusOK, docs)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusNotFound, "Endpoint not found")
}

// Helper functions
func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	response := map[string]string{"error": message}
	s.respondWithJSON(w, status, response)
}

func (s *Server) respondWithFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("Failed to write file response", zap.String("file", filename), zap.Error(err))
	}
}

func parseLimit(r *http.Request) int {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	return limit
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Stepper() *simulation.Stepper {
	return s.stepper
}

// Server lifecycle
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.server = &http.Server{
		Addr:         s.config.ServerPort,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting REST API server", zap.String("addr", s.config.ServerPort))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stepper.Stop()
	if s.server != nil {
		s.logger.Info("Shutting down API server")
		return s.server.Shutdown(ctx)
	}
	return nil
}
