package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/skyhold/flightquote/clientcredentials"
	"github.com/skyhold/flightquote/internal/flights"
)

const maxBodyBytes = 1 << 20

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var q flights.Query
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&q); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}

	body, err := s.deps.Flights.Search(r.Context(), q)
	if errors.Is(err, flights.ErrInvalidQuery) {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logUpstream(r, "flight search failed", err)
		s.writeError(w, r, http.StatusInternalServerError, "Flight search failed.")
		return
	}

	s.writeRaw(w, r, body)
}

func (s *Server) autocomplete(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if utf8.RuneCountInString(keyword) < 2 {
		s.writeError(w, r, http.StatusBadRequest, "Query must be at least 2 characters")
		return
	}

	data, err := s.deps.Flights.Locations(r.Context(), keyword)
	if err != nil {
		s.logUpstream(r, "autocomplete failed", err)
		s.writeError(w, r, http.StatusInternalServerError, "Autocomplete failed")
		return
	}

	s.writeRaw(w, r, data)
}

type holdResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Received json.RawMessage `json:"received"`
}

// hold acknowledges a provisional hold. Nothing is booked yet.
func (s *Server) hold(w http.ResponseWriter, r *http.Request) {
	buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.deps.Logger.Error("hold endpoint error", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to create hold")
		return
	}
	if len(buf) == 0 {
		buf = []byte("{}")
	}
	if !json.Valid(buf) {
		s.writeError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}

	s.deps.Logger.Info("hold request received",
		zap.String("request_id", RequestID(r.Context())),
		zap.ByteString("payload", buf))

	s.writeJSON(w, r, http.StatusOK, holdResponse{
		Success:  true,
		Message:  "Hold placeholder created successfully.",
		Received: buf,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "OK"})
}

type readyResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// ready fails only without client credentials: the external cache is
// optional and the service degrades without it.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{}
	ready := true

	if s.deps.Tokens.HasCredentials() {
		deps["credentials"] = "configured"
	} else {
		deps["credentials"] = "missing"
		ready = false
	}

	state := s.deps.Tokens.ExternalCacheState()
	deps["token_cache"] = state.String()

	switch {
	case s.deps.Cache == nil:
		deps["redis"] = "not_configured"
	case state == clientcredentials.ExternalCacheDisabled:
		deps["redis"] = "disabled"
	default:
		if err := s.deps.Cache.Ping(r.Context()); err != nil {
			deps["redis"] = "disconnected"
			s.deps.Logger.Warn("readiness: external cache ping failed", zap.Error(err))
		} else {
			deps["redis"] = "connected"
		}
	}

	resp := readyResponse{Status: "READY", Dependencies: deps}
	status := http.StatusOK
	if !ready {
		resp.Status = "NOT_READY"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, resp)
}

func (s *Server) writeRaw(w http.ResponseWriter, r *http.Request, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.deps.Logger.Warn("failed to write response",
			zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	}
}

func (s *Server) logUpstream(r *http.Request, msg string, err error) {
	fields := []zap.Field{
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	}
	var apiErr *flights.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.Int("upstream_status", apiErr.Status))
	}
	if errors.Is(err, clientcredentials.ErrUpstreamIssuance) {
		fields = append(fields, zap.Bool("token_failure", true))
	}
	s.deps.Logger.Error(msg, fields...)
}
