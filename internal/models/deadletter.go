// internal/models/deadletter.go
package models

import "time"

// DeadLetter records a submission the pipeline could not finish. The row is
// the durable trail for manual re-drives; the cursor has already advanced
// past the submission by the time one is written.
type DeadLetter struct {
	ID           string                 `json:"id"`
	SubmissionID string                 `json:"submissionId"`
	FormID       string                 `json:"formId"`
	ClientEmail  string                 `json:"clientEmail,omitempty"`
	Stage        string                 `json:"stage"`
	ErrorCode    string                 `json:"errorCode"`
	ErrorDetail  string                 `json:"errorDetail,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}
