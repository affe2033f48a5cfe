// internal/models/cursor.go
package models

import "time"

// PollingCursor is the per-form watermark below which all submissions are
// known processed. LastProcessedTime is non-decreasing for a given form and
// is persisted so restarts neither reprocess history nor skip data.
type PollingCursor struct {
	FormID            string    `json:"formId"`
	LastProcessedTime time.Time `json:"lastProcessedTime"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
