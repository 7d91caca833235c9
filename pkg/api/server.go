package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/metrics"
	"github.com/greenprompt/registry/pkg/registry"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/rs/zerolog"
)

// RequestPayload is the body of POST /promptingservice/request.
type RequestPayload struct {
	LLMs          []types.LLMConfig `json:"llms"`
	MeasurementID int64             `json:"measurementId"`
}

// RequestSingleResponse is one created request in a submission reply.
type RequestSingleResponse struct {
	RequestID string          `json:"requestId"`
	LLMConfig types.LLMConfig `json:"llmconfig"`
}

// RequestResponse is the body of a successful submission reply.
type RequestResponse struct {
	Requests []RequestSingleResponse `json:"requests"`
}

// RequestStatusResponse is the body of GET /promptingservice/request/{id}.
type RequestStatusResponse struct {
	RequestID     string          `json:"requestId"`
	LLMConfig     types.LLMConfig `json:"llmconfig"`
	Status        string          `json:"status"`
	MeasurementID int64           `json:"measurementId"`
	Address       string          `json:"address,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Server is the HTTP surface of the registry.
type Server struct {
	registry *registry.Registry
	mux      *http.ServeMux
	logger   zerolog.Logger
	httpSrv  *http.Server
}

// NewServer creates the registry HTTP server.
func NewServer(reg *registry.Registry) *Server {
	mux := http.NewServeMux()
	s := &Server{
		registry: reg,
		mux:      mux,
		logger:   log.WithComponent("api"),
	}

	mux.HandleFunc("/promptingservice/request", s.instrument(s.requestCollectionHandler))
	mux.HandleFunc("/promptingservice/request/", s.instrument(s.requestItemHandler))
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in tests.
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

// instrument records request counts and latency per method.
func (s *Server) instrument(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload RequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	receipts, err := s.registry.Submit(registry.SubmitPayload{
		LLMs:          payload.LLMs,
		MeasurementID: payload.MeasurementID,
	})
	if err != nil {
		if errors.Is(err, registry.ErrInvalidState) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}

	response := RequestResponse{Requests: make([]RequestSingleResponse, 0, len(receipts))}
	for _, receipt := range receipts {
		response.Requests = append(response.Requests, RequestSingleResponse{
			RequestID: receipt.RequestID,
			LLMConfig: receipt.LLMConfig,
		})
	}
	s.writeJSON(w, http.StatusCreated, response)
}

func (s *Server) requestItemHandler(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimPrefix(r.URL.Path, "/promptingservice/request/")
	if requestID == "" || strings.Contains(requestID, "/") {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getRequest(w, r, requestID)
	case http.MethodDelete:
		s.releaseRequest(w, r, requestID)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	view, err := s.registry.GetRequest(requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "request not found")
			return
		}
		s.internalError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, RequestStatusResponse{
		RequestID:     view.RequestID,
		LLMConfig:     view.LLMConfig,
		Status:        string(view.Status),
		MeasurementID: view.MeasurementID,
		Address:       view.Address,
	})
}

func (s *Server) releaseRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	err := s.registry.Release(requestID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, registry.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// internalError hides the failure behind a correlation id the operator can
// grep for.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := uuid.New().String()
	s.logger.Error().
		Err(err).
		Str("correlation_id", correlationID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")
	s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:         "internal error",
		CorrelationID: correlationID,
	})
}
