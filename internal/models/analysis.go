// internal/models/analysis.go
package models

import "time"

// QualificationAnalysis is the AI qualification summary produced for a
// submission. At most one row exists per SubmissionID; that uniqueness is
// the idempotency key of the whole pipeline. Rows are immutable once created.
type QualificationAnalysis struct {
	ID           string                 `json:"id"`
	ClientID     string                 `json:"clientId"`
	ClientEmail  string                 `json:"clientEmail"`
	ClientType   string                 `json:"clientType"`
	AgentID      string                 `json:"agentId"`
	FormData     map[string]interface{} `json:"formData,omitempty"`
	AISummary    string                 `json:"aiSummary"`
	Model        string                 `json:"model"`
	SubmissionID string                 `json:"submissionId"`
	CreatedAt    time.Time              `json:"createdAt"`
}
