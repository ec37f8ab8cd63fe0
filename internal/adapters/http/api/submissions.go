package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/dreamscore/internal/domain/model"
)

// MaxSubmissionBytes caps an uploaded file.
const MaxSubmissionBytes = 32 << 20

// SubmissionsHandler accepts submission files and reports their status.
type SubmissionsHandler struct {
	deps Dependencies
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(deps Dependencies) *SubmissionsHandler {
	return &SubmissionsHandler{deps: deps}
}

type submissionResponse struct {
	Submission model.Submission `json:"submission"`
	State      model.State      `json:"state"`
}

// HandlePostSubmission handles POST /evaluations/{id}/submissions.
//
// The body is either the raw CSV or a multipart form with the CSV in the
// "file" field. Identity metadata comes from query or form values.
func (h *SubmissionsHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_submission"
	r.Body = http.MaxBytesReader(w, r.Body, MaxSubmissionBytes)

	payload, err := readPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	sub, err := submissionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	sub.EvaluationID = chi.URLParam(r, "id")

	queued, err := h.deps.Submit(r.Context(), sub, payload)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submissionResponse{Submission: queued, State: model.StateReceived})
}

// HandleGetStatus handles GET /submissions/{id}.
func (h *SubmissionsHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "api.get_status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func readPayload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("file field: %w", err)
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func submissionFromRequest(r *http.Request) (model.Submission, error) {
	get := func(key string) string {
		if v := r.URL.Query().Get(key); v != "" {
			return strings.TrimSpace(v)
		}
		if r.MultipartForm != nil {
			if vs := r.MultipartForm.Value[key]; len(vs) > 0 {
				return strings.TrimSpace(vs[0])
			}
		}
		return ""
	}
	sub := model.Submission{
		ID:       get("submissionId"),
		UserID:   get("userId"),
		UserName: get("userName"),
		EntityID: get("entityId"),
		Name:     get("name"),
		TeamName: get("team"),
	}
	if ts := get("submittedAt"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return sub, errors.New("invalid submittedAt; must be RFC3339")
		}
		sub.SubmittedAt = t
	}
	return sub, nil
}
