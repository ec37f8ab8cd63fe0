package sample

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/dreamscore/internal/domain/model"
)

// ErrStatus is returned for a non-2xx API response.
var ErrStatus = errors.New("unexpected response status")

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap lets errors.Is match ErrStatus.
func (e *APIError) Unwrap() error { return ErrStatus }

// Leaderboard is the leaderboard of one evaluation.
type Leaderboard struct {
	EvaluationID string                 `json:"evaluationId"`
	Columns      []string               `json:"columns"`
	Rows         []model.LeaderboardRow `json:"rows"`
}

// Client talks to the scoring API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, "", nil)
}

// Submit posts a submission file. The returned submission carries the
// assigned id.
func (c *Client) Submit(ctx context.Context, evaluationID string, meta model.Submission, payload []byte) (model.Submission, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("submissionId", meta.ID)
	set("userId", meta.UserID)
	set("userName", meta.UserName)
	set("entityId", meta.EntityID)
	set("name", meta.Name)
	set("team", meta.TeamName)
	if !meta.SubmittedAt.IsZero() {
		q.Set("submittedAt", meta.SubmittedAt.UTC().Format(time.RFC3339))
	}

	var out struct {
		Submission model.Submission `json:"submission"`
	}
	path := "/evaluations/" + url.PathEscape(evaluationID) + "/submissions?" + q.Encode()
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "text/csv", &out); err != nil {
		return model.Submission{}, err
	}
	return out.Submission, nil
}

// Status fetches the status of a submission.
func (c *Client) Status(ctx context.Context, submissionID string) (model.Status, error) {
	var st model.Status
	err := c.do(ctx, http.MethodGet, "/submissions/"+url.PathEscape(submissionID), nil, "", &st)
	return st, err
}

// Leaderboard fetches the leaderboard of an evaluation.
func (c *Client) Leaderboard(ctx context.Context, evaluationID string) (Leaderboard, error) {
	var lb Leaderboard
	err := c.do(ctx, http.MethodGet, "/leaderboards/"+url.PathEscape(evaluationID), nil, "", &lb)
	return lb, err
}

// Rank runs rank aggregation for an evaluation.
func (c *Client) Rank(ctx context.Context, evaluationID string) ([]model.RankRecord, error) {
	var out struct {
		Records []model.RankRecord `json:"records"`
	}
	err := c.do(ctx, http.MethodPost, "/leaderboards/"+url.PathEscape(evaluationID)+"/rank", nil, "", &out)
	return out.Records, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
