// internal/poller/poller_test.go
package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-engine/internal/common/config"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/cursor"
	"intake-engine/internal/identity"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

// ==========================
// Test Fakes
// ==========================

type fakeSource struct {
	mu      sync.Mutex
	batches map[string][]models.Submission
	errs    map[string]error
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		batches: make(map[string][]models.Submission),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) ListSubmissions(ctx context.Context, formID string, since time.Time) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[formID]++
	if err := f.errs[formID]; err != nil {
		return nil, err
	}

	var out []models.Submission
	for _, sub := range f.batches[formID] {
		if sub.CreatedAt.After(since) {
			out = append(out, sub)
		}
	}
	return out, nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	last      models.Submission
	err       error
}

func (f *fakeProcessor) Process(ctx context.Context, form config.FormConfig, sub models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, sub.ID)
	f.last = sub
	return f.err
}

func (f *fakeProcessor) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

func (f *fakeProcessor) lastSub() models.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// ==========================
// Test Helpers
// ==========================

func testForms(ids ...string) []config.FormConfig {
	forms := make([]config.FormConfig, 0, len(ids))
	for _, id := range ids {
		forms = append(forms, config.FormConfig{ID: id, ClientType: models.ClientTypeBuyer, AgentID: "agent-001"})
	}
	return forms
}

func testPoller(forms []config.FormConfig, source SubmissionSource, proc Processor, st *store.MemoryStore) *Poller {
	return New(
		forms, source, proc,
		cursor.NewManager(st, logger.NewNop()),
		50*time.Millisecond, 2,
		logger.NewNop(),
	)
}

// ==========================
// Cycle Tests
// ==========================

func TestRunCycle_ProcessesBatchInOrder(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	source.batches["form-001"] = []models.Submission{
		{ID: "sub-1", FormID: "form-001", CreatedAt: base.Add(1 * time.Minute)},
		{ID: "sub-2", FormID: "form-001", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "sub-3", FormID: "form-001", CreatedAt: base.Add(3 * time.Minute)},
	}
	proc := &fakeProcessor{}
	st := store.NewMemoryStore()

	p := testPoller(testForms("form-001"), source, proc, st)
	p.runCycle(context.Background())

	assert.Equal(t, []string{"sub-1", "sub-2", "sub-3"}, proc.ids())

	cur, err := st.GetCursor(context.Background(), "form-001")
	require.NoError(t, err)
	assert.Equal(t, base.Add(3*time.Minute), cur.LastProcessedTime)
}

func TestRunCycle_SecondCycleFetchesNothingNew(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	source.batches["form-001"] = []models.Submission{
		{ID: "sub-1", FormID: "form-001", CreatedAt: base},
	}
	proc := &fakeProcessor{}
	st := store.NewMemoryStore()

	p := testPoller(testForms("form-001"), source, proc, st)
	p.runCycle(context.Background())
	p.runCycle(context.Background())

	assert.Equal(t, []string{"sub-1"}, proc.ids())
}

func TestRunCycle_FetchFailureLeavesCursor(t *testing.T) {
	source := newFakeSource()
	source.errs["form-001"] = errors.New("service unavailable")
	proc := &fakeProcessor{}
	st := store.NewMemoryStore()

	p := testPoller(testForms("form-001"), source, proc, st)
	p.runCycle(context.Background())

	assert.Empty(t, proc.ids())
	_, err := st.GetCursor(context.Background(), "form-001")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestRunCycle_FailingFormDoesNotBlockOthers(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	source.errs["form-001"] = errors.New("service unavailable")
	source.batches["form-002"] = []models.Submission{
		{ID: "sub-1", FormID: "form-002", CreatedAt: base},
	}
	proc := &fakeProcessor{}
	st := store.NewMemoryStore()

	p := testPoller(testForms("form-001", "form-002"), source, proc, st)
	p.runCycle(context.Background())

	assert.Equal(t, []string{"sub-1"}, proc.ids())
}

func TestRunCycle_ProcessErrorStillAdvancesCursor(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	source.batches["form-001"] = []models.Submission{
		{ID: "sub-1", FormID: "form-001", CreatedAt: base},
	}
	proc := &fakeProcessor{err: errors.New("stage exhausted")}
	st := store.NewMemoryStore()

	p := testPoller(testForms("form-001"), source, proc, st)
	p.runCycle(context.Background())

	// Parked submissions are the pipeline's responsibility; the poll loop
	// moves on so one poison submission cannot wedge the form.
	cur, err := st.GetCursor(context.Background(), "form-001")
	require.NoError(t, err)
	assert.Equal(t, base, cur.LastProcessedTime)
}

func TestClaimForm_PreventsOverlap(t *testing.T) {
	p := testPoller(testForms("form-001"), newFakeSource(), &fakeProcessor{}, store.NewMemoryStore())

	assert.True(t, p.claimForm("form-001"))
	assert.False(t, p.claimForm("form-001"))
	p.releaseForm("form-001")
	assert.True(t, p.claimForm("form-001"))
}

// ==========================
// Lifecycle Tests
// ==========================

func TestStartStop(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	source := newFakeSource()
	source.batches["form-001"] = []models.Submission{
		{ID: "sub-1", FormID: "form-001", CreatedAt: base},
	}
	proc := &fakeProcessor{}

	p := testPoller(testForms("form-001"), source, proc, store.NewMemoryStore())

	go p.Start(context.Background())

	// The first cycle runs immediately on start.
	require.Eventually(t, func() bool {
		return len(proc.ids()) == 1
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.Equal(t, []string{"sub-1"}, proc.ids())
}

func TestProcessTestSubmission(t *testing.T) {
	proc := &fakeProcessor{}
	p := testPoller(testForms("form-001"), newFakeSource(), proc, store.NewMemoryStore())

	require.NoError(t, p.ProcessTestSubmission(context.Background(), "probe@example.com", "Probe"))
	require.Len(t, proc.ids(), 1)
	assert.Contains(t, proc.ids()[0], "test-")
}

func TestProcessTestSubmission_HonorsFormKeyOverrides(t *testing.T) {
	// A form configured with custom extraction keys must receive the
	// injected identity under those keys, or the pipeline would skip the
	// submission as unresolvable while the endpoint reports success.
	form := config.FormConfig{
		ID:         "form-001",
		ClientType: models.ClientTypeBuyer,
		AgentID:    "agent-001",
		EmailKeys:  []string{"contact_email"},
		NameKeys:   []string{"full_name"},
	}
	proc := &fakeProcessor{}
	p := testPoller([]config.FormConfig{form}, newFakeSource(), proc, store.NewMemoryStore())

	require.NoError(t, p.ProcessTestSubmission(context.Background(), "pat@example.com", "Pat Doe"))

	sub := proc.lastSub()
	assert.Equal(t, "pat@example.com", sub.Answers["contact_email"].Answer)
	assert.Equal(t, "Pat Doe", sub.Answers["full_name"].Answer)

	schema := identity.DefaultSchema().Merge(form.EmailKeys, form.NameKeys, form.PhoneKeys)
	contact, err := identity.NewRouter(nil, logger.NewNop()).Extract(sub, schema)
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", contact.Email)
	assert.Equal(t, "Pat Doe", contact.Name)
}
