// internal/models/submission.go
package models

import "time"

// Answer is one field response inside a submission. The survey service keys
// answers by field id and wraps each value in an object.
type Answer struct {
	Answer interface{} `json:"answer"`
	Label  string      `json:"label,omitempty"`
}

// Submission is one completed-form event fetched from the survey service.
// Submissions are owned by the external service and read-only here.
type Submission struct {
	ID        string            `json:"id"`
	FormID    string            `json:"formId"`
	CreatedAt time.Time         `json:"createdAt"`
	Answers   map[string]Answer `json:"answers"`
}
