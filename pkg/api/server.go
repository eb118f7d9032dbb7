package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/orchestrator"
)

// maxBodyBytes leaves room for JSON escaping around the largest directive.
const maxBodyBytes = 4 * contracts.MaxDirectiveBytes

// Sessions is the orchestration surface served over HTTP.
type Sessions interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (contracts.SessionResult, error)
	Status(ctx context.Context, sessionID string) (contracts.SessionRecord, error)
}

// Server routes HTTP requests to a Sessions implementation.
type Server struct {
	sessions Sessions
	limiter  *RateLimiter
	auth     *Authenticator
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimiter enables per-client rate limiting.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithAuthenticator enables bearer authentication.
func WithAuthenticator(a *Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// NewServer creates a Server over sessions.
func NewServer(sessions Sessions, opts ...ServerOption) *Server {
	s := &Server{
		sessions: sessions,
		logger:   slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied. Outermost
// first: request id, rate limit, authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/directives", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleStatus)

	var h http.Handler = mux
	h = s.auth.Middleware(h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return RequestID(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req orchestrator.SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	res, err := s.sessions.Submit(r.Context(), req)
	if err != nil {
		var verr *contracts.ValidationError
		if errors.As(err, &verr) {
			WriteBadRequest(w, r, verr.Error())
			return
		}
		WriteInternal(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "directive processed",
		"session_id", res.SessionID,
		"final_state", res.FinalState,
		"subject", Subject(r.Context()),
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, contracts.ErrSessionNotFound) {
			WriteNotFound(w, r, "Session not found")
			return
		}
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
