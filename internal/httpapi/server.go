// Package httpapi is the HTTP surface of the router: request
// validation adapters, the generate/stream/chat/completions routes,
// and the operational endpoints (health, info, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/tgi-router/internal/config"
	"github.com/agenthands/tgi-router/internal/health"
	"github.com/agenthands/tgi-router/internal/infer"
	"github.com/agenthands/tgi-router/internal/modelinfo"
	"github.com/agenthands/tgi-router/internal/router"
)

// Server wires the inference facade, model metadata, and health
// checker into the routes the original service exposes.
type Server struct {
	cfg       config.Config
	infer     *infer.Infer
	registry  *modelinfo.Registry
	checker   *health.Checker
	logger    *slog.Logger
	startTime time.Time

	httpServer *http.Server
	Handler    http.Handler
}

// New builds a Server. The caller still needs to call ListenAndServe
// (via Start) or drive Handler directly in tests.
func New(cfg config.Config, inf *infer.Infer, registry *modelinfo.Registry, checker *health.Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		infer:     inf,
		registry:  registry,
		checker:   checker,
		logger:    logger,
		startTime: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(recoverMiddleware(logger), logMiddleware(logger))

	r.HandleFunc("/", s.handleCompatRoot).Methods("POST")
	r.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	r.HandleFunc("/generate_stream", s.handleGenerateStream).Methods("POST")
	r.HandleFunc("/tokenize", s.handleTokenize).Methods("POST")
	r.HandleFunc("/info", s.handleInfo).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ping", s.handlePing).Methods("GET")
	r.HandleFunc("/docs", s.handleDocs).Methods("GET")
	r.HandleFunc("/invocations", s.handleInvocations).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/completions", s.handleCompletions).Methods("POST")
	v1.HandleFunc("/chat/completions", s.handleChatCompletions).Methods("POST")

	r.HandleFunc("/vertex", s.handleVertex).Methods("POST")

	s.Handler = r
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // generation can run arbitrarily long
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, ErrorResponse{Error: message, ErrorType: errType})
}

// writeErr maps a router error to the matching HTTP status code and
// writes the standard error body.
func writeErr(w http.ResponseWriter, err error) {
	errType := router.ErrorType(err)
	status := http.StatusInternalServerError
	switch errType {
	case "validation", "template_error":
		status = http.StatusUnprocessableEntity
	case "overloaded":
		status = http.StatusTooManyRequests
	case "generation":
		status = http.StatusFailedDependency
	case "incomplete_generation":
		status = http.StatusInternalServerError
	}
	writeError(w, status, err.Error(), errType)
}

func newRequestID() string {
	return uuid.NewString()
}
