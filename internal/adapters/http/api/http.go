// Package api serves the submission, status and leaderboard HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	service "github.com/okian/dreamscore/internal/app"
	"github.com/okian/dreamscore/internal/adapters/repository"
	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/registry"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	Submit(ctx context.Context, sub model.Submission, payload []byte) (model.Submission, error)
	Status(ctx context.Context, submissionID string) (model.Status, error)

	Evaluations() []registry.Entry
	Leaderboard(ctx context.Context, evaluationID string) ([]model.LeaderboardRow, error)
	Rank(ctx context.Context, evaluationID string) ([]model.RankRecord, error)
	RebuildLeaderboard(ctx context.Context, evaluationID string) (int, error)

	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	submissionsHandler *SubmissionsHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		submissionsHandler: NewSubmissionsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
	}
}

// Register attaches all routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Handle("/metrics", s.healthHandler.MetricsHandler())
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Get("/evaluations", s.leaderboardHandler.HandleListEvaluations)
	r.Post("/evaluations/{id}/submissions", s.submissionsHandler.HandlePostSubmission)
	r.Get("/submissions/{id}", s.submissionsHandler.HandleGetStatus)

	r.Get("/leaderboards/{id}", s.leaderboardHandler.HandleGetLeaderboard)
	r.Post("/leaderboards/{id}/rank", s.leaderboardHandler.HandleRank)
	r.Post("/leaderboards/{id}/rebuild", s.leaderboardHandler.HandleRebuild)
}

// Handler returns a chi router with every route registered.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	s.Register(ctx, r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service and store errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, registry.ErrUnknownEvaluation), errors.Is(err, repository.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrDuplicate):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, service.ErrQueueFull):
		status, code = http.StatusTooManyRequests, "backpressure"
		err = fmt.Errorf("%w: %w", ErrBackpressure, err)
	case errors.Is(err, service.ErrEmptyPayload):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrNotStarted):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	writeError(w, status, code, fmt.Errorf("%s: %w", op, err))
}
