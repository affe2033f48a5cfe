// internal/models/workflow.go
package models

import "time"

// Workflow statuses. Transitions are strictly forward:
// in-progress -> form_completed -> completed.
const (
	WorkflowStatusInProgress    = "in-progress"
	WorkflowStatusFormCompleted = "form_completed"
	WorkflowStatusCompleted     = "completed"
)

// Step statuses
const (
	StepStatusPending   = "pending"
	StepStatusCompleted = "completed"
)

// Canonical step names, in execution order.
const (
	StepSendForm        = "send_form"
	StepAwaitCompletion = "await_completion"
	StepGenerateSummary = "generate_summary"
	StepGenerateReport  = "generate_report"
	StepNotifyAgent     = "notify_agent"
)

// WorkflowStep is one entry in the ordered step list. A step never moves
// from completed back to pending.
type WorkflowStep struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Workflow tracks a client's onboarding journey from survey send to
// completion of all downstream artifacts.
type Workflow struct {
	ID                 string         `json:"id"`
	ClientID           string         `json:"clientId"`
	ClientType         string         `json:"clientType"`
	AgentID            string         `json:"agentId"`
	Status             string         `json:"status"`
	Steps              []WorkflowStep `json:"steps"`
	EmailsSent         int            `json:"emailsSent"`
	DocumentsGenerated int            `json:"documentsGenerated"`
	FormID             string         `json:"formId"`
	SubmissionID       string         `json:"submissionId,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Step returns a pointer into Steps for the named step, or nil.
func (w *Workflow) Step(name string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i]
		}
	}
	return nil
}

// DefaultSteps returns the ordered step list for a fresh workflow.
func DefaultSteps() []WorkflowStep {
	names := []string{
		StepSendForm,
		StepAwaitCompletion,
		StepGenerateSummary,
		StepGenerateReport,
		StepNotifyAgent,
	}
	steps := make([]WorkflowStep, 0, len(names))
	for _, n := range names {
		steps = append(steps, WorkflowStep{Name: n, Status: StepStatusPending})
	}
	return steps
}
