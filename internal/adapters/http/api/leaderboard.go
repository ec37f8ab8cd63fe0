package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/registry"
)

// LeaderboardHandler serves evaluations, leaderboards and ranking.
type LeaderboardHandler struct {
	deps Dependencies
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps Dependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

type evaluationResponse struct {
	registry.Entry
	Columns []string `json:"columns"`
}

type leaderboardResponse struct {
	EvaluationID string                 `json:"evaluationId"`
	Columns      []string               `json:"columns"`
	Rows         []model.LeaderboardRow `json:"rows"`
}

type rankResponse struct {
	EvaluationID string             `json:"evaluationId"`
	Records      []model.RankRecord `json:"records"`
}

type rebuildResponse struct {
	EvaluationID string `json:"evaluationId"`
	Rows         int    `json:"rows"`
}

// HandleListEvaluations handles GET /evaluations.
func (h *LeaderboardHandler) HandleListEvaluations(w http.ResponseWriter, _ *http.Request) {
	entries := h.deps.Evaluations()
	out := make([]evaluationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, evaluationResponse{Entry: e, Columns: e.Question.MetricColumns()})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetLeaderboard handles GET /leaderboards/{id}.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := h.deps.Leaderboard(r.Context(), id)
	if err != nil {
		writeServiceError(w, "api.get_leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{EvaluationID: id, Columns: h.columns(id), Rows: rows})
}

// HandleRank handles POST /leaderboards/{id}/rank.
func (h *LeaderboardHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := h.deps.Rank(r.Context(), id)
	if err != nil {
		writeServiceError(w, "api.rank", err)
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{EvaluationID: id, Records: recs})
}

// HandleRebuild handles POST /leaderboards/{id}/rebuild.
func (h *LeaderboardHandler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.deps.RebuildLeaderboard(r.Context(), id)
	if err != nil {
		writeServiceError(w, "api.rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{EvaluationID: id, Rows: n})
}

func (h *LeaderboardHandler) columns(id string) []string {
	base := []string{"objectId", "userId", "entityId", "submitDate", "name", "team"}
	for _, e := range h.deps.Evaluations() {
		if e.ID == id {
			return append(base, e.Question.MetricColumns()...)
		}
	}
	return base
}
