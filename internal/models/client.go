// internal/models/client.go
package models

import "time"

// Client types
const (
	ClientTypeBuyer  = "buyer"
	ClientTypeSeller = "seller"
)

// Client statuses
const (
	ClientStatusFormSent      = "form_sent"
	ClientStatusFormCompleted = "form_completed"
)

// Client is a person going through intake. Clients are keyed uniquely by
// (email, clientType) and are never deleted by this service.
type Client struct {
	ID         string                 `json:"id"`
	Email      string                 `json:"email"`
	Name       string                 `json:"name"`
	Phone      string                 `json:"phone,omitempty"`
	ClientType string                 `json:"clientType"`
	AgentID    string                 `json:"agentId"`
	FormData   map[string]interface{} `json:"formData,omitempty"`
	AISummary  string                 `json:"aiSummary,omitempty"`
	Status     string                 `json:"status"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}
