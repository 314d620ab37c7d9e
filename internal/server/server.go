// Package server implements the HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skyhold/flightquote/cache"
	"github.com/skyhold/flightquote/clientcredentials"
	"github.com/skyhold/flightquote/internal/flights"
	"github.com/skyhold/flightquote/internal/metrics"
)

// FlightSearcher is the flight API used by the handlers.
type FlightSearcher interface {
	Search(ctx context.Context, q flights.Query) (json.RawMessage, error)
	Locations(ctx context.Context, keyword string) (json.RawMessage, error)
}

// TokenStatus reports token service health.
type TokenStatus interface {
	HasCredentials() bool
	ExternalCacheState() clientcredentials.ExternalCacheState
}

// Deps holds the server collaborators.
type Deps struct {
	Flights FlightSearcher
	Tokens  TokenStatus

	// Cache is the external token cache, nil when not configured.
	Cache cache.Pinger

	Logger         *zap.Logger
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
}

// Server routes requests to the handlers.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates the server and registers the routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}

	s.handle("POST /api/search", s.search)
	s.handle("GET /api/autocomplete", s.autocomplete)
	s.handle("POST /api/hold", s.hold)
	s.handle("GET /health", s.health)
	s.handle("GET /ready", s.ready)
	if deps.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return RequestIDMiddleware(s.mux)
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}

// instrument logs and measures every request served by h.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		elap := time.Since(begin)
		if s.deps.HTTPMetrics != nil {
			s.deps.HTTPMetrics.Observe(route, rec.status, elap)
		}
		s.deps.Logger.Debug("request served",
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elap),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Error("failed to encode response",
			zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorResponse{Error: msg})
}
