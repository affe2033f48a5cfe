// internal/formservice/client.go
// Package formservice fetches completed submissions from the external
// survey service.
package formservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	stderrors "intake-engine/internal/common/errors"
	commonhttp "intake-engine/internal/common/http"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// submissionSchema validates each raw item before parsing. The answers map
// is keyed by field id with an {answer: value} object shape.
const submissionSchema = `{
	"type": "object",
	"required": ["id", "formId", "createdAt", "answers"],
	"properties": {
		"id":        {"type": "string", "minLength": 1},
		"formId":    {"type": "string", "minLength": 1},
		"createdAt": {"type": "string"},
		"answers": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["answer"]
			}
		}
	}
}`

// Client talks to the survey service's submissions API.
type Client struct {
	baseURL string
	apiKey  string
	http    *commonhttp.Client
	timeout time.Duration
	schema  *gojsonschema.Schema
	logger  logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log logger.Logger) (*Client, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(submissionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile submission schema: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    commonhttp.NewClient(timeout),
		timeout: timeout,
		schema:  schema,
		logger:  log.WithFields(map[string]interface{}{"component": "form-service"}),
	}, nil
}

type listResponse struct {
	Items []json.RawMessage `json:"items"`
}

// ListSubmissions fetches submissions for the form created strictly after
// since, sorted ascending by creation time. The sort is applied locally so
// cursor-advance logic never depends on the service's ordering.
func (c *Client) ListSubmissions(ctx context.Context, formID string, since time.Time) ([]models.Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/forms/%s/submissions", c.baseURL, url.PathEscape(formID))
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var resp listResponse
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.http.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, stderrors.NewFormFetchFailedError(formID, err)
	}

	subs := make([]models.Submission, 0, len(resp.Items))
	for _, raw := range resp.Items {
		sub, err := c.parseItem(raw)
		if err != nil {
			// Malformed items are skipped, not fatal for the batch.
			c.logger.Warn("dropping invalid submission payload", map[string]interface{}{
				"formId": formID,
				"error":  err.Error(),
			})
			continue
		}
		// The service is trusted to filter on since, but the contract here
		// is strict: only submissions newer than the watermark come back.
		if !sub.CreatedAt.After(since) {
			continue
		}
		subs = append(subs, sub)
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	return subs, nil
}

func (c *Client) parseItem(raw json.RawMessage) (models.Submission, error) {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return models.Submission{}, fmt.Errorf("validate: %w", err)
	}
	if !result.Valid() {
		details := ""
		for _, e := range result.Errors() {
			details += e.String() + "; "
		}
		return models.Submission{}, stderrors.NewSubmissionParseFailedError(peekID(raw), details)
	}

	var sub models.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return models.Submission{}, fmt.Errorf("decode: %w", err)
	}
	return sub, nil
}

func peekID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ID
}
