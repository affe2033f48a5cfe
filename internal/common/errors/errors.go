// internal/common/errors/errors.go
// Package errors provides standardized error handling for the intake pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Poll-level errors: no state change, same form retried next cycle.
	ErrCodeFormFetchFailed       ErrorCode = "FORM_FETCH_FAILED"
	ErrCodeSubmissionParseFailed ErrorCode = "SUBMISSION_PARSE_FAILED"

	// Submission-level errors.
	ErrCodeIdentityUnresolvable ErrorCode = "IDENTITY_UNRESOLVABLE"
	ErrCodeDuplicateSubmission  ErrorCode = "DUPLICATE_SUBMISSION"

	// Pipeline stage errors.
	ErrCodeAnalysisFailed       ErrorCode = "ANALYSIS_FAILED"
	ErrCodeAnalysisTimeout      ErrorCode = "ANALYSIS_TIMEOUT"
	ErrCodeArtifactFailed       ErrorCode = "ARTIFACT_GENERATION_FAILED"
	ErrCodeNotificationFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeInvalidTransition    ErrorCode = "WORKFLOW_INVALID_TRANSITION"
	ErrCodeDatabaseQueryFailed  ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeDatabaseInsertFailed ErrorCode = "DATABASE_INSERT_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewFormFetchFailedError creates a retryable per-form fetch error. The
// cursor for the form is left unchanged and the form is retried next cycle.
func NewFormFetchFailedError(formID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeFormFetchFailed,
		Message:   "Form service fetch failed",
		Details:   fmt.Sprintf("formId: %s, error: %s", formID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionParseFailedError creates a non-retryable payload error for a
// submission that failed schema validation.
func NewSubmissionParseFailedError(submissionID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionParseFailed,
		Message:   "Submission payload failed validation",
		Details:   fmt.Sprintf("submissionId: %s, %s", submissionID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIdentityUnresolvableError marks a submission with no extractable email.
// The submission is skipped permanently; the cursor still advances past it.
func NewIdentityUnresolvableError(submissionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdentityUnresolvable,
		Message:   "No client email resolvable from submission",
		Details:   fmt.Sprintf("submissionId: %s", submissionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateSubmissionError marks an idempotency guard hit. No-op at
// pipeline level, logged at info.
func NewDuplicateSubmissionError(submissionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateSubmission,
		Message:   "Submission already processed",
		Details:   fmt.Sprintf("submissionId: %s", submissionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAnalysisFailedError creates a retryable analyzer error. If retries are
// exhausted the run degrades: the client update still lands, the workflow
// stays at form_completed and no downstream stage runs.
func NewAnalysisFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAnalysisFailed,
		Message:   "Qualification analyzer call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAnalysisTimeoutError creates a retryable analyzer timeout error.
func NewAnalysisTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeAnalysisTimeout,
		Message:   "Qualification analyzer timeout",
		Details:   "call exceeded configured deadline",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewArtifactFailedError creates a retryable report generation error. On
// exhaustion the workflow stays at form_completed for a later re-drive.
func NewArtifactFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArtifactFailed,
		Message:   "Report artifact generation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationFailedError creates a retryable notification error. On
// exhaustion the workflow stays at form_completed for a later re-drive.
func NewNotificationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Agent notification delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError marks an attempted backward workflow move.
func NewInvalidTransitionError(workflowID, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Workflow transition not allowed",
		Details:   fmt.Sprintf("workflowId: %s, %s -> %s", workflowID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseQueryFailedError creates a retryable query error.
func NewDatabaseQueryFailedError(entity string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseQueryFailed,
		Message:   "Database query failed",
		Details:   fmt.Sprintf("entity: %s, error: %s", entity, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable insert error.
func NewDatabaseInsertFailedError(entity string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert failed",
		Details:   fmt.Sprintf("entity: %s, error: %s", entity, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the bounded in-run retry budget per error code.
// These retries happen inside a single pipeline run with backoff, distinct
// from the outer polling cadence.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeAnalysisFailed,
		ErrCodeArtifactFailed,
		ErrCodeNotificationFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeDatabaseInsertFailed:
		return 3

	case ErrCodeAnalysisTimeout:
		return 1

	default:
		// Permanent skips and poll-level errors: the next tick is the retry.
		return 0
	}
}

// IsRetryable reports whether err carries a retryable StandardError. Errors
// outside the taxonomy are not retryable: they carry no retry budget, so
// reporting them retryable would promise retries that never happen.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return "INTERNAL_ERROR"
}
