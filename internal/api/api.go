package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mholtzmann/tpfand/db"
	"github.com/mholtzmann/tpfand/internal/env"
	"github.com/mholtzmann/tpfand/internal/model"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// StatusProvider is the controller surface the API reads from.
type StatusProvider interface {
	Status() model.Status
	Curve() model.FanCurve
}

// Server exposes read-only daemon state over HTTP. Control stays with the
// daemon and the CLI; the API never writes to the EC.
type Server struct {
	db       *sql.DB
	provider StatusProvider
	srv      *http.Server
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type CurveResponse struct {
	Points []model.CurvePoint `json:"points"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, provider StatusProvider, addr string) *Server {
	s := &Server{
		db:       database,
		provider: provider,
	}
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

// Handler returns the routed handler, wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/curve", s.handleCurve).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return corsHandler(r)
}

// Start serves the API, blocking until Shutdown or listener failure.
func (s *Server) Start() error {
	log.Info().Str("address", s.srv.Addr).Msg("Starting REST API server")
	return s.srv.ListenAndServe()
}

// Shutdown stops the listener and lets in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func corsHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: env.Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.Status())
}

func (s *Server) handleCurve(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, CurveResponse{Points: s.provider.Curve().Points()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := db.RecentReadings(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query reading history")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if readings == nil {
		readings = []model.Reading{}
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := db.RecentEvents(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query events")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
