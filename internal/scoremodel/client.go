// Package scoremodel calls the external trust scoring service. The model
// runs out of process; this package owns the wire contract and maps its
// failures onto domain error codes so callers can decide whether to retry.
package scoremodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

type AccountInput struct {
	Provider id.Provider `json:"provider"`
	Username string      `json:"username"`
}

type Request struct {
	Subject      id.Address     `json:"subject"`
	Identifier   string         `json:"identifier"`
	CurrentScore uint8          `json:"currentScore"`
	Accounts     []AccountInput `json:"accounts"`
}

type Result struct {
	Score           uint8   `json:"score"`
	EvidencePointer string  `json:"evidencePointer"`
	Confidence      float64 `json:"confidence"`
	ModelVersion    string  `json:"modelVersion"`
}

// Client computes a fresh trust score for a subject.
type Client interface {
	Score(ctx context.Context, req Request) (Result, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type Option func(*HTTPClient)

func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) { c.client = client }
}

func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Score(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode score request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "build score request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "score model unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return Result{}, dErrors.Newf(dErrors.CodeUnavailable, "score model returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return Result{}, dErrors.Newf(dErrors.CodeValidation, "score model rejected request: %s", readSnippet(resp.Body))
	default:
		return Result{}, dErrors.Newf(dErrors.CodeInternal, "score model returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode score response")
	}
	if !id.ValidScore(result.Score) {
		return Result{}, dErrors.Newf(dErrors.CodeInvariantViolation, "score model returned out-of-range score %d", result.Score)
	}

	c.logger.DebugContext(ctx, "score computed",
		"subject", req.Subject, "score", result.Score, "model", result.ModelVersion)
	return result, nil
}

func readSnippet(r io.Reader) string {
	snippet, _ := io.ReadAll(io.LimitReader(r, 256))
	return fmt.Sprintf("%.256s", snippet)
}
