package settle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP SURFACE - Manual settlement endpoint, health, metrics
// ═══════════════════════════════════════════════════════════════════════════════

const settleTimeout = 3 * time.Minute

// Server exposes the settlement engine over HTTP.
type Server struct {
	engine *Engine
	status func() interface{}
	http   *http.Server
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(addr string, engine *Engine) *Server {
	s := &Server{engine: engine}

	r := mux.NewRouter()
	r.HandleFunc("/settle", s.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: settleTimeout + 10*time.Second,
	}
	return s
}

// Start serves until Shutdown; ErrServerClosed is swallowed.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("🌐 HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(CodeInvalidAmount, "malformed request body"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()

	result := s.engine.Settle(ctx, req)

	status := http.StatusOK
	if !result.OK {
		switch result.ErrorCode {
		case CodeCooldownActive:
			status = http.StatusTooManyRequests
		case CodeNoSigningKey, CodeNoRPCEndpoint, CodeAddressMismatch, CodeInternal:
			status = http.StatusInternalServerError
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WithStatus installs the provider backing GET /status.
func (s *Server) WithStatus(fn func() interface{}) { s.status = fn }

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Response encode failed")
	}
}
