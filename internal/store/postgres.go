// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "embed"

	"intake-engine/internal/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore implements Store over database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Clients ---

func (s *PostgresStore) CreateClient(ctx context.Context, c *models.Client) error {
	formData, err := marshalJSONB(c.FormData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (id, email, name, phone, client_type, agent_id, form_data, ai_summary, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Email, c.Name, c.Phone, c.ClientType, c.AgentID, formData, c.AISummary, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, c *models.Client) error {
	formData, err := marshalJSONB(c.FormData)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name = $2, phone = $3, form_data = $4, ai_summary = $5, status = $6, updated_at = $7
		WHERE id = $1`,
		c.ID, c.Name, c.Phone, formData, c.AISummary, c.Status, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) GetClientByEmail(ctx context.Context, email, clientType string) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, phone, client_type, agent_id, form_data, ai_summary, status, created_at, updated_at
		FROM clients
		WHERE email = $1 AND client_type = $2`,
		email, clientType,
	)

	var c models.Client
	var formData []byte
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Phone, &c.ClientType, &c.AgentID, &formData, &c.AISummary, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}
	if err := unmarshalJSONB(formData, &c.FormData); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Workflows ---

func (s *PostgresStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	steps, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, client_id, client_type, agent_id, status, steps, emails_sent, documents_generated, form_id, submission_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.ClientID, w.ClientType, w.AgentID, w.Status, steps, w.EmailsSent, w.DocumentsGenerated, w.FormID, w.SubmissionID, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, w *models.Workflow) error {
	steps, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET status = $2, steps = $3, emails_sent = $4, documents_generated = $5, submission_id = $6, updated_at = $7
		WHERE id = $1`,
		w.ID, w.Status, steps, w.EmailsSent, w.DocumentsGenerated, w.SubmissionID, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) GetWorkflowByClientAndForm(ctx context.Context, clientID, formID string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, client_type, agent_id, status, steps, emails_sent, documents_generated, form_id, submission_id, created_at, updated_at
		FROM workflows
		WHERE client_id = $1 AND form_id = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		clientID, formID,
	)

	var w models.Workflow
	var steps []byte
	err := row.Scan(&w.ID, &w.ClientID, &w.ClientType, &w.AgentID, &w.Status, &steps, &w.EmailsSent, &w.DocumentsGenerated, &w.FormID, &w.SubmissionID, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	if err := json.Unmarshal(steps, &w.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &w, nil
}

// --- Qualification analyses ---

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *models.QualificationAnalysis) error {
	formData, err := marshalJSONB(a.FormData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qualification_analyses (id, client_id, client_email, client_type, agent_id, form_data, ai_summary, model, submission_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ClientID, a.ClientEmail, a.ClientType, a.AgentID, formData, a.AISummary, a.Model, a.SubmissionID, a.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateAnalysis
		}
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisBySubmission(ctx context.Context, submissionID string) (*models.QualificationAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, client_email, client_type, agent_id, form_data, ai_summary, model, submission_id, created_at
		FROM qualification_analyses
		WHERE submission_id = $1`,
		submissionID,
	)

	var a models.QualificationAnalysis
	var formData []byte
	err := row.Scan(&a.ID, &a.ClientID, &a.ClientEmail, &a.ClientType, &a.AgentID, &formData, &a.AISummary, &a.Model, &a.SubmissionID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query analysis: %w", err)
	}
	if err := unmarshalJSONB(formData, &a.FormData); err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Polling cursors ---

func (s *PostgresStore) GetCursor(ctx context.Context, formID string) (*models.PollingCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT form_id, last_processed_time, updated_at
		FROM polling_cursors
		WHERE form_id = $1`,
		formID,
	)

	var c models.PollingCursor
	err := row.Scan(&c.FormID, &c.LastProcessedTime, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cursor: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, c *models.PollingCursor) error {
	// GREATEST keeps the watermark monotonic even under a stale write.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO polling_cursors (form_id, last_processed_time, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (form_id) DO UPDATE
		SET last_processed_time = GREATEST(polling_cursors.last_processed_time, EXCLUDED.last_processed_time),
		    updated_at = EXCLUDED.updated_at`,
		c.FormID, c.LastProcessedTime, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// --- Dead letters ---

func (s *PostgresStore) CreateDeadLetter(ctx context.Context, d *models.DeadLetter) error {
	payload, err := marshalJSONB(d.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, submission_id, form_id, client_email, stage, error_code, error_detail, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.SubmissionID, d.FormID, d.ClientEmail, d.Stage, d.ErrorCode, d.ErrorDetail, payload, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// --- helpers ---

func marshalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

func unmarshalJSONB(b []byte, out *map[string]interface{}) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
