// Package api exposes the aggregation engine and the reading store over
// HTTP. Granularity is fixed per endpoint; trailing-window size comes from
// query parameters.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/ugsoil/soilserver/internal/aggregate"
	"github.com/ugsoil/soilserver/internal/config"
	"github.com/ugsoil/soilserver/internal/store"
)

// Server wires the HTTP handlers to the store and the aggregator.
type Server struct {
	store   store.Store
	agg     *aggregate.Aggregator
	log     *slog.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// NewServer creates a Server. The rate limiter only guards the ingest
// endpoint; read queries are unthrottled.
func NewServer(st store.Store, agg *aggregate.Aggregator, log *slog.Logger, cfg config.HTTPConfig) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		store:   st,
		agg:     agg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
		timeout: timeout,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.timeoutMiddleware)

	v1.Handle("/soil-data", s.rateLimit(http.HandlerFunc(s.handleIngest))).Methods("POST")

	v1.HandleFunc("/soil/{sensorId}/hourly", s.handleHourly).Methods("GET")
	v1.HandleFunc("/soil/{sensorId}/six-hourly", s.handleSixHourly).Methods("GET")
	v1.HandleFunc("/soil/{sensorId}/daily", s.handleDaily).Methods("GET")
	v1.HandleFunc("/soil/{sensorId}/weekly", s.handleWeekly).Methods("GET")
	v1.HandleFunc("/soil/{sensorId}/monthly", s.handleMonthly).Methods("GET")
	v1.HandleFunc("/soil/{sensorId}/summary", s.handleSummary).Methods("GET")
	v1.HandleFunc("/soil/nearby", s.handleNearby).Methods("GET")

	v1.HandleFunc("/sensors", s.handleRegisterSensor).Methods("POST")
	v1.HandleFunc("/sensors", s.handleListSensors).Methods("GET")
	v1.HandleFunc("/sensors/{sensorId}", s.handleGetSensor).Methods("GET")
	v1.HandleFunc("/sensors/{sensorId}", s.handleUpdateSensor).Methods("PUT")
	v1.HandleFunc("/sensors/{sensorId}", s.handleDeleteSensor).Methods("DELETE")

	return r
}

// timeoutMiddleware bounds every store-touching request so a slow backend
// fails the call instead of hanging it.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
