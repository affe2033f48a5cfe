// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"intake-engine/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// An email->id index mirrors the indexed lookup the Postgres store gets
// from its unique constraint.
type MemoryStore struct {
	mu sync.Mutex

	clients     map[string]models.Client // by id
	clientIndex map[string]string        // email|clientType -> id
	workflows   map[string]models.Workflow
	analyses    map[string]models.QualificationAnalysis // by submission id
	cursors     map[string]models.PollingCursor
	deadLetters []models.DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:     make(map[string]models.Client),
		clientIndex: make(map[string]string),
		workflows:   make(map[string]models.Workflow),
		analyses:    make(map[string]models.QualificationAnalysis),
		cursors:     make(map[string]models.PollingCursor),
	}
}

func clientKey(email, clientType string) string {
	return email + "|" + clientType
}

func (s *MemoryStore) CreateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c.ID] = *c
	s.clientIndex[clientKey(c.Email, c.ClientType)] = c.ID
	return nil
}

func (s *MemoryStore) UpdateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c.ID]; !ok {
		return ErrNotFound
	}
	s.clients[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetClientByEmail(_ context.Context, email, clientType string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.clientIndex[clientKey(email, clientType)]
	if !ok {
		return nil, ErrNotFound
	}
	c := s.clients[id]
	return &c, nil
}

func (s *MemoryStore) CreateWorkflow(_ context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[w.ID] = cloneWorkflow(w)
	return nil
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[w.ID]; !ok {
		return ErrNotFound
	}
	s.workflows[w.ID] = cloneWorkflow(w)
	return nil
}

func (s *MemoryStore) GetWorkflowByClientAndForm(_ context.Context, clientID, formID string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.Workflow
	for id := range s.workflows {
		w := s.workflows[id]
		if w.ClientID != clientID || w.FormID != formID {
			continue
		}
		if found == nil || w.CreatedAt.After(found.CreatedAt) {
			cp := cloneWorkflow(&w)
			found = &cp
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) CreateAnalysis(_ context.Context, a *models.QualificationAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyses[a.SubmissionID]; ok {
		return ErrDuplicateAnalysis
	}
	s.analyses[a.SubmissionID] = *a
	return nil
}

func (s *MemoryStore) GetAnalysisBySubmission(_ context.Context, submissionID string) (*models.QualificationAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.analyses[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GetCursor(_ context.Context, formID string) (*models.PollingCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cursors[formID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, c *models.PollingCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cursors[c.FormID]
	if ok && existing.LastProcessedTime.After(c.LastProcessedTime) {
		// Keep the watermark monotonic.
		return nil
	}
	s.cursors[c.FormID] = *c
	return nil
}

func (s *MemoryStore) CreateDeadLetter(_ context.Context, d *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deadLetters = append(s.deadLetters, *d)
	return nil
}

// AnalysisCount reports how many analyses exist. Test helper.
func (s *MemoryStore) AnalysisCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyses)
}

// DeadLetters returns a copy of the dead-letter list. Test helper.
func (s *MemoryStore) DeadLetters() []models.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeadLetter, len(s.deadLetters))
	copy(out, s.deadLetters)
	return out
}

func cloneWorkflow(w *models.Workflow) models.Workflow {
	cp := *w
	cp.Steps = make([]models.WorkflowStep, len(w.Steps))
	copy(cp.Steps, w.Steps)
	return cp
}
