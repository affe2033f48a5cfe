// internal/store/store.go
// Package store is the persistence adapter for the intake engine's four
// entity types plus dead letters. All writes are upserts keyed by entity id;
// no cross-entity transaction is required.
package store

import (
	"context"
	"errors"

	"intake-engine/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateAnalysis is returned when an analysis already exists for a
	// submission id. The unique constraint is the storage-level second line
	// of defense behind the application-level idempotency check.
	ErrDuplicateAnalysis = errors.New("store: analysis already exists for submission")
)

// Store exposes create, update-by-id and query-by-field operations for
// Client, Workflow, QualificationAnalysis and PollingCursor records.
type Store interface {
	CreateClient(ctx context.Context, c *models.Client) error
	UpdateClient(ctx context.Context, c *models.Client) error
	// GetClientByEmail looks a client up by its unique (email, clientType)
	// key using an indexed query.
	GetClientByEmail(ctx context.Context, email, clientType string) (*models.Client, error)

	CreateWorkflow(ctx context.Context, w *models.Workflow) error
	UpdateWorkflow(ctx context.Context, w *models.Workflow) error
	// GetWorkflowByClientAndForm returns the most recent workflow for the
	// client/form pair, or ErrNotFound.
	GetWorkflowByClientAndForm(ctx context.Context, clientID, formID string) (*models.Workflow, error)

	// CreateAnalysis persists a new analysis row. Returns
	// ErrDuplicateAnalysis if a row already exists for the submission id.
	CreateAnalysis(ctx context.Context, a *models.QualificationAnalysis) error
	GetAnalysisBySubmission(ctx context.Context, submissionID string) (*models.QualificationAnalysis, error)

	GetCursor(ctx context.Context, formID string) (*models.PollingCursor, error)
	// SaveCursor upserts the cursor. The stored watermark never moves
	// backward even if a stale value is written.
	SaveCursor(ctx context.Context, c *models.PollingCursor) error

	CreateDeadLetter(ctx context.Context, d *models.DeadLetter) error
}
