// internal/artifact/client.go
// Package artifact calls the document-generation service that renders the
// qualification report for a processed submission.
package artifact

import (
	"context"
	"strings"
	"time"

	stderrors "intake-engine/internal/common/errors"
	commonhttp "intake-engine/internal/common/http"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
)

// Client talks to the report-generation API.
type Client struct {
	baseURL string
	apiKey  string
	http    *commonhttp.Client
	timeout time.Duration
	logger  logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    commonhttp.NewClient(timeout),
		timeout: timeout,
		logger:  log.WithFields(map[string]interface{}{"component": "artifact"}),
	}
}

type reportRequest struct {
	ClientName  string                 `json:"clientName"`
	ClientEmail string                 `json:"clientEmail"`
	ClientType  string                 `json:"clientType"`
	Summary     string                 `json:"summary"`
	FormData    map[string]interface{} `json:"formData"`
}

type reportResponse struct {
	URL string `json:"url"`
}

// CreateReport renders a qualification report document and returns its URL.
func (c *Client) CreateReport(ctx context.Context, client *models.Client, summary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := reportRequest{
		ClientName:  client.Name,
		ClientEmail: client.Email,
		ClientType:  client.ClientType,
		Summary:     summary,
		FormData:    client.FormData,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp reportResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/v1/reports", headers, req, &resp); err != nil {
		return "", stderrors.NewArtifactFailedError(err)
	}
	if strings.TrimSpace(resp.URL) == "" {
		return "", stderrors.NewArtifactFailedError(errMissingURL)
	}

	c.logger.Debug("report generated", map[string]interface{}{
		"clientEmail": client.Email,
		"url":         resp.URL,
	})
	return resp.URL, nil
}

type missingURLError struct{}

func (missingURLError) Error() string { return "report service returned no document url" }

var errMissingURL = missingURLError{}
