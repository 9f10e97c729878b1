// Package api is the HTTP surface over the queue core. It owns request
// decoding and the error-to-status mapping; every queue semantic lives in
// internal/queue.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/queue"
)

type Server struct {
	queue *queue.Queue
	log   *zap.Logger
}

func NewServer(q *queue.Queue, log *zap.Logger) *Server {
	return &Server{queue: q, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog)

	r.Post("/v1/jobs", s.handleSubmit)
	r.Get("/v1/jobs/{id}", s.handleGetStatus)
	r.Delete("/v1/jobs/{id}", s.handleCancel)
	r.Post("/v1/claim", s.handleClaim)
	r.Post("/v1/jobs/{id}/complete", s.handleComplete)
	r.Post("/v1/jobs/{id}/fail", s.handleFail)

	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

type submitRequest struct {
	Type     string              `json:"type"`
	Payload  json.RawMessage     `json:"payload"`
	Priority int                 `json:"priority"`
	DelayMs  int64               `json:"delayMs"`
	Retry    *domain.RetryPolicy `json:"retry,omitempty"`
	Webhook  *domain.Webhook     `json:"webhook,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(domain.ErrValidation, "malformed request body"))
		return
	}
	if req.DelayMs < 0 {
		s.writeError(w, errors.Wrap(domain.ErrValidation, "delayMs must not be negative"))
		return
	}

	j, err := s.queue.Submit(r.Context(), queue.SubmitParams{
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: req.Priority,
		Delay:    time.Duration(req.DelayMs) * time.Millisecond,
		Retry:    req.Retry,
		Webhook:  req.Webhook,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.queue.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	j, err := s.queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

type claimRequest struct {
	WorkerID string `json:"workerId"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(domain.ErrValidation, "malformed request body"))
		return
	}

	j, err := s.queue.Claim(r.Context(), req.WorkerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if j == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

type completeRequest struct {
	WorkerID string          `json:"workerId"`
	Result   json.RawMessage `json:"result,omitempty"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(domain.ErrValidation, "malformed request body"))
		return
	}
	if err := s.queue.ReportSuccess(r.Context(), chi.URLParam(r, "id"), req.WorkerID, req.Result); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failRequest struct {
	WorkerID string `json:"workerId"`
	Error    string `json:"error"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(domain.ErrValidation, "malformed request body"))
		return
	}
	if err := s.queue.ReportFailure(r.Context(), chi.URLParam(r, "id"), req.WorkerID, req.Error); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStore):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", zap.Error(err))
	}
}
