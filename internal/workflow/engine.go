// internal/workflow/engine.go
// Package workflow owns the ordered step state machine for each client's
// onboarding-to-completion journey.
package workflow

import (
	"context"
	"time"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"

	"github.com/google/uuid"
)

// statusRank orders workflow statuses. Transitions may only increase rank.
var statusRank = map[string]int{
	models.WorkflowStatusInProgress:    0,
	models.WorkflowStatusFormCompleted: 1,
	models.WorkflowStatusCompleted:     2,
}

// Engine drives workflow state. All mutations persist through the store;
// no code path moves a workflow or a step backward.
type Engine struct {
	store  store.Store
	logger logger.Logger
}

func NewEngine(st store.Store, log logger.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: log.WithFields(map[string]interface{}{"component": "workflow-engine"}),
	}
}

// CreateForSurvey creates a workflow at the moment the onboarding survey is
// sent: status in-progress, all steps pending except send_form.
func (e *Engine) CreateForSurvey(ctx context.Context, client *models.Client, formID string) (*models.Workflow, error) {
	now := time.Now().UTC()

	w := &models.Workflow{
		ID:         uuid.New().String(),
		ClientID:   client.ID,
		ClientType: client.ClientType,
		AgentID:    client.AgentID,
		Status:     models.WorkflowStatusInProgress,
		Steps:      models.DefaultSteps(),
		FormID:     formID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	completeStep(w, models.StepSendForm, now)
	w.EmailsSent++

	if err := e.store.CreateWorkflow(ctx, w); err != nil {
		return nil, stderrors.NewDatabaseInsertFailedError("workflow", err)
	}

	e.logger.Info("workflow created", map[string]interface{}{
		"workflowId": w.ID,
		"clientId":   client.ID,
		"formId":     formID,
	})
	return w, nil
}

// HandleSubmission transitions in-progress -> form_completed, completes the
// await_completion step and attaches the submission id. Calling it on a
// workflow already at or past form_completed is a no-op.
func (e *Engine) HandleSubmission(ctx context.Context, w *models.Workflow, sub models.Submission) error {
	if statusRank[w.Status] >= statusRank[models.WorkflowStatusFormCompleted] {
		return nil
	}

	now := time.Now().UTC()
	w.Status = models.WorkflowStatusFormCompleted
	w.SubmissionID = sub.ID
	completeStep(w, models.StepAwaitCompletion, now)
	w.UpdatedAt = now

	if err := e.store.UpdateWorkflow(ctx, w); err != nil {
		return stderrors.NewDatabaseInsertFailedError("workflow", err)
	}

	e.logger.Info("workflow form completed", map[string]interface{}{
		"workflowId":   w.ID,
		"submissionId": sub.ID,
	})
	return nil
}

// CompleteStep marks a single step completed and persists. Steps only move
// forward; completing an already-completed step is a no-op.
func (e *Engine) CompleteStep(ctx context.Context, w *models.Workflow, stepName string) error {
	step := w.Step(stepName)
	if step == nil || step.Status == models.StepStatusCompleted {
		return nil
	}

	now := time.Now().UTC()
	completeStep(w, stepName, now)
	w.UpdatedAt = now

	if err := e.store.UpdateWorkflow(ctx, w); err != nil {
		return stderrors.NewDatabaseInsertFailedError("workflow", err)
	}
	return nil
}

// RecordArtifact completes the generate_report step and counts the document.
func (e *Engine) RecordArtifact(ctx context.Context, w *models.Workflow) error {
	now := time.Now().UTC()
	completeStep(w, models.StepGenerateReport, now)
	w.DocumentsGenerated++
	w.UpdatedAt = now

	if err := e.store.UpdateWorkflow(ctx, w); err != nil {
		return stderrors.NewDatabaseInsertFailedError("workflow", err)
	}
	return nil
}

// RecordNotification completes the notify_agent step and counts the email.
func (e *Engine) RecordNotification(ctx context.Context, w *models.Workflow) error {
	now := time.Now().UTC()
	completeStep(w, models.StepNotifyAgent, now)
	w.EmailsSent++
	w.UpdatedAt = now

	if err := e.store.UpdateWorkflow(ctx, w); err != nil {
		return stderrors.NewDatabaseInsertFailedError("workflow", err)
	}
	return nil
}

// Complete moves a form_completed workflow to the terminal completed state
// and marks any remaining steps completed. Entering completed from
// in-progress is rejected: the submission must have been attached first.
func (e *Engine) Complete(ctx context.Context, w *models.Workflow) error {
	if w.Status == models.WorkflowStatusCompleted {
		return nil
	}
	if w.Status != models.WorkflowStatusFormCompleted {
		return stderrors.NewInvalidTransitionError(w.ID, w.Status, models.WorkflowStatusCompleted)
	}

	now := time.Now().UTC()
	for i := range w.Steps {
		if w.Steps[i].Status != models.StepStatusCompleted {
			completeStep(w, w.Steps[i].Name, now)
		}
	}
	w.Status = models.WorkflowStatusCompleted
	w.UpdatedAt = now

	if err := e.store.UpdateWorkflow(ctx, w); err != nil {
		return stderrors.NewDatabaseInsertFailedError("workflow", err)
	}

	e.logger.Info("workflow completed", map[string]interface{}{
		"workflowId": w.ID,
		"clientId":   w.ClientID,
	})
	return nil
}

// completeStep marks the named step completed in place. It never reverts a
// completed step and ignores unknown names.
func completeStep(w *models.Workflow, name string, at time.Time) {
	step := w.Step(name)
	if step == nil || step.Status == models.StepStatusCompleted {
		return
	}
	step.Status = models.StepStatusCompleted
	t := at
	step.CompletedAt = &t
}
