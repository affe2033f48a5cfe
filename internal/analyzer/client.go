// internal/analyzer/client.go
// Package analyzer wraps the text-analysis API that produces client
// qualification summaries.
package analyzer

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	stderrors "intake-engine/internal/common/errors"
	commonhttp "intake-engine/internal/common/http"
	"intake-engine/internal/common/logger"
)

// Client calls the analyzer's completion endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *commonhttp.Client
	timeout time.Duration
	logger  logger.Logger
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    commonhttp.NewClient(timeout),
		timeout: timeout,
		logger:  log.WithFields(map[string]interface{}{"component": "analyzer"}),
	}
}

// Model reports which analyzer model is configured. Stored alongside each
// analysis so results stay attributable after model upgrades.
func (c *Client) Model() string {
	return c.model
}

type analyzeRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type analyzeResponse struct {
	Summary string `json:"summary"`
}

// Summarize produces a qualification summary for the normalized form text.
// A deadline overrun maps to the dedicated timeout error so callers can
// apply the tighter retry policy for slow analyses.
func (c *Client) Summarize(ctx context.Context, formText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := analyzeRequest{
		Model:  c.model,
		Prompt: "Summarize the following intake form responses and assess how qualified the client is:\n\n" + formText,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp analyzeResponse
	start := time.Now()
	err := c.http.PostJSON(ctx, c.baseURL+"/v1/analyze", headers, req, &resp)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", stderrors.NewAnalysisTimeoutError()
		}
		return "", stderrors.NewAnalysisFailedError(err)
	}

	summary := strings.TrimSpace(resp.Summary)
	if summary == "" {
		return "", stderrors.NewAnalysisFailedError(errEmptySummary)
	}

	c.logger.Debug("analysis completed", map[string]interface{}{
		"model":      c.model,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return summary, nil
}

// isTimeout covers both the context deadline and the transport-level
// timeout, whichever fires first.
func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type emptySummaryError struct{}

func (emptySummaryError) Error() string { return "analyzer returned an empty summary" }

var errEmptySummary = emptySummaryError{}
