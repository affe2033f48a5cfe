// internal/workflow/engine_test.go
package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

func testClient() *models.Client {
	return &models.Client{
		ID:         "client-001",
		Email:      "buyer@example.com",
		ClientType: models.ClientTypeBuyer,
		AgentID:    "agent-001",
	}
}

func testEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewEngine(st, logger.NewNop()), st
}

func TestCreateForSurvey(t *testing.T) {
	engine, _ := testEngine(t)

	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusInProgress, w.Status)
	assert.Equal(t, 1, w.EmailsSent)
	assert.Len(t, w.Steps, 5)

	sendForm := w.Step(models.StepSendForm)
	require.NotNil(t, sendForm)
	assert.Equal(t, models.StepStatusCompleted, sendForm.Status)
	assert.NotNil(t, sendForm.CompletedAt)

	for _, name := range []string{
		models.StepAwaitCompletion,
		models.StepGenerateSummary,
		models.StepGenerateReport,
		models.StepNotifyAgent,
	} {
		assert.Equal(t, models.StepStatusPending, w.Step(name).Status, name)
	}
}

func TestHandleSubmission(t *testing.T) {
	engine, _ := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)

	sub := models.Submission{ID: "sub-001", FormID: "form-001", CreatedAt: time.Now().UTC()}
	require.NoError(t, engine.HandleSubmission(context.Background(), w, sub))

	assert.Equal(t, models.WorkflowStatusFormCompleted, w.Status)
	assert.Equal(t, "sub-001", w.SubmissionID)
	assert.Equal(t, models.StepStatusCompleted, w.Step(models.StepAwaitCompletion).Status)
}

func TestHandleSubmission_AlreadyPast(t *testing.T) {
	engine, _ := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)

	first := models.Submission{ID: "sub-001"}
	require.NoError(t, engine.HandleSubmission(context.Background(), w, first))

	// A second submission must not replace the attached id.
	second := models.Submission{ID: "sub-002"}
	require.NoError(t, engine.HandleSubmission(context.Background(), w, second))
	assert.Equal(t, "sub-001", w.SubmissionID)
}

func TestCompleteStep_Monotonic(t *testing.T) {
	engine, _ := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)

	require.NoError(t, engine.CompleteStep(context.Background(), w, models.StepGenerateSummary))
	first := *w.Step(models.StepGenerateSummary).CompletedAt

	// Completing again keeps the original timestamp.
	require.NoError(t, engine.CompleteStep(context.Background(), w, models.StepGenerateSummary))
	assert.Equal(t, first, *w.Step(models.StepGenerateSummary).CompletedAt)
}

func TestRecordArtifactAndNotification(t *testing.T) {
	engine, _ := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)

	require.NoError(t, engine.RecordArtifact(context.Background(), w))
	assert.Equal(t, 1, w.DocumentsGenerated)
	assert.Equal(t, models.StepStatusCompleted, w.Step(models.StepGenerateReport).Status)

	require.NoError(t, engine.RecordNotification(context.Background(), w))
	assert.Equal(t, 2, w.EmailsSent) // send_form + notify_agent
	assert.Equal(t, models.StepStatusCompleted, w.Step(models.StepNotifyAgent).Status)
}

func TestComplete_FromFormCompleted(t *testing.T) {
	engine, st := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)
	require.NoError(t, engine.HandleSubmission(context.Background(), w, models.Submission{ID: "sub-001"}))

	require.NoError(t, engine.Complete(context.Background(), w))
	assert.Equal(t, models.WorkflowStatusCompleted, w.Status)
	for _, step := range w.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status, step.Name)
	}

	stored, err := st.GetWorkflowByClientAndForm(context.Background(), "client-001", "form-001")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
}

func TestComplete_FromInProgressRejected(t *testing.T) {
	engine, _ := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)

	err = engine.Complete(context.Background(), w)
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeInvalidTransition, stderrors.CodeOf(err))
	assert.Equal(t, models.WorkflowStatusInProgress, w.Status)
}

func TestComplete_Idempotent(t *testing.T) {
	engine, _ := testEngine(t)
	w, err := engine.CreateForSurvey(context.Background(), testClient(), "form-001")
	require.NoError(t, err)
	require.NoError(t, engine.HandleSubmission(context.Background(), w, models.Submission{ID: "sub-001"}))
	require.NoError(t, engine.Complete(context.Background(), w))

	assert.NoError(t, engine.Complete(context.Background(), w))
}
