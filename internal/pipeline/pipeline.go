// internal/pipeline/pipeline.go
// Package pipeline runs the per-submission processing sequence: identity
// extraction, idempotency check, analysis, client upsert, workflow
// transition, report generation and agent notification.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"intake-engine/internal/common/config"
	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/metrics"
	"intake-engine/internal/common/observability"
	"intake-engine/internal/guard"
	"intake-engine/internal/identity"
	"intake-engine/internal/models"
	"intake-engine/internal/notify"
	"intake-engine/internal/store"
	"intake-engine/internal/workflow"
)

// Analyzer produces a qualification summary from normalized form text.
type Analyzer interface {
	Summarize(ctx context.Context, formText string) (string, error)
	Model() string
}

// ArtifactGenerator renders the qualification report document.
type ArtifactGenerator interface {
	CreateReport(ctx context.Context, client *models.Client, summary string) (string, error)
}

// AgentNotifier emails the owning agent about a finished submission.
type AgentNotifier interface {
	NotifyReportReady(ctx context.Context, agentEmail string, data notify.ReportReadyData) error
}

// DeadLetterAlerter announces parked submissions to operators.
type DeadLetterAlerter interface {
	AlertDeadLetter(ctx context.Context, data notify.DeadLetterAlertData)
}

// AnalysisIndexer mirrors analyses into the search index.
type AnalysisIndexer interface {
	IndexAnalysis(ctx context.Context, a *models.QualificationAnalysis) error
}

// Pipeline executes the processing sequence for one submission at a time
// per client identity. Submissions for distinct clients may run
// concurrently; submissions that resolve to the same (email, clientType)
// are serialized on a per-client lock.
type Pipeline struct {
	store     store.Store
	router    *identity.Router
	guard     *guard.Guard
	workflows *workflow.Engine
	analyzer  Analyzer
	artifacts ArtifactGenerator
	notifier  AgentNotifier
	alerter   DeadLetterAlerter
	indexer   AnalysisIndexer // optional
	obs       *observability.Observability
	retryBase time.Duration
	logger    logger.Logger

	mu    sync.Mutex
	locks map[string]*clientLock
}

func New(
	st store.Store,
	router *identity.Router,
	g *guard.Guard,
	engine *workflow.Engine,
	an Analyzer,
	art ArtifactGenerator,
	not AgentNotifier,
	alerter DeadLetterAlerter,
	indexer AnalysisIndexer,
	obs *observability.Observability,
	retryBase time.Duration,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:     st,
		router:    router,
		guard:     g,
		workflows: engine,
		analyzer:  an,
		artifacts: art,
		notifier:  not,
		alerter:   alerter,
		indexer:   indexer,
		obs:       obs,
		retryBase: retryBase,
		logger:    log.WithFields(map[string]interface{}{"component": "pipeline"}),
		locks:     make(map[string]*clientLock),
	}
}

// Process runs the full sequence for one submission. Permanent skips
// (unresolvable identity) and duplicates return nil; every non-nil return
// means the submission exhausted a stage's retry budget and was parked:
// the poller advances the cursor past it, so the dead letter is the only
// durable trace.
func (p *Pipeline) Process(ctx context.Context, form config.FormConfig, sub models.Submission) error {
	start := time.Now()
	status := metrics.StatusFailed
	defer func() {
		metrics.PipelineDuration.WithLabelValues(form.ID).Observe(time.Since(start).Seconds())
		metrics.SubmissionsProcessedTotal.WithLabelValues(form.ID, status).Inc()
		if p.obs != nil {
			p.obs.RecordSubmissionProcessed(ctx, status)
			p.obs.RecordSubmissionDuration(ctx, time.Since(start), status)
		}
	}()

	log := p.logger.WithFields(map[string]interface{}{
		"submissionId": sub.ID,
		"formId":       form.ID,
	})

	schema := identity.DefaultSchema().Merge(form.EmailKeys, form.NameKeys, form.PhoneKeys)
	contact, err := p.router.Extract(sub, schema)
	if err != nil {
		// No resolvable email is a permanent skip, not a retry candidate.
		log.Warn("submission skipped, identity unresolvable", map[string]interface{}{
			"error": err.Error(),
		})
		status = metrics.StatusSkipped
		return nil
	}

	// Serialize all work for a single client identity. Two submissions for
	// the same person in one batch must not interleave client or workflow
	// writes.
	unlock := p.lockClient(contact.Email + "|" + form.ClientType)
	defer unlock()

	var processed bool
	if err := p.withRetry(ctx, "dedupe_check", func(ctx context.Context) error {
		var err error
		processed, err = p.guard.Processed(ctx, sub.ID)
		return err
	}); err != nil {
		p.parkSubmission(ctx, form, sub, contact.Email, "dedupe_check", err)
		return err
	}
	if processed {
		log.Info("submission already processed, skipping", nil)
		metrics.DuplicateSubmissionsTotal.Inc()
		status = metrics.StatusDuplicate
		return nil
	}
	if !p.guard.Acquire(ctx, sub.ID) {
		log.Info("submission in flight elsewhere, skipping", nil)
		metrics.DuplicateSubmissionsTotal.Inc()
		status = metrics.StatusDuplicate
		return nil
	}
	defer p.guard.Release(ctx, sub.ID)

	// Analysis runs before any persisted state changes; on exhaustion the
	// run degrades instead of aborting the submission.
	summary, analysisErr := p.analyze(ctx, sub)

	client, err := p.upsertClient(ctx, contact, form, sub, summary)
	if err != nil {
		return err
	}

	wf, err := p.attachWorkflow(ctx, client, form, sub)
	if err != nil {
		return err
	}

	if analysisErr != nil {
		// Degraded: the client reflects the latest form data, but no
		// analysis row is written and no artifact or notification runs.
		// The workflow stays at form_completed for a later re-drive.
		p.parkSubmission(ctx, form, sub, client.Email, "generate_summary", analysisErr)
		log.Error("analysis exhausted retries, stopping at form_completed", map[string]interface{}{
			"clientId": client.ID,
			"error":    analysisErr.Error(),
		})
		status = metrics.StatusDegraded
		return nil
	}

	done, err := p.recordAnalysis(ctx, form, client, wf, sub, summary, log)
	if err != nil {
		return err
	}
	if done {
		// Lost the storage-level race: another worker owns this
		// submission's side effects.
		metrics.DuplicateSubmissionsTotal.Inc()
		status = metrics.StatusDuplicate
		return nil
	}

	reportURL, err := p.generateReport(ctx, client, wf, form, sub, summary)
	if err != nil {
		return err
	}

	if err := p.notifyAgent(ctx, client, wf, form, sub, summary, reportURL); err != nil {
		return err
	}

	if err := p.withRetry(ctx, "complete_workflow", func(ctx context.Context) error {
		return p.workflows.Complete(ctx, wf)
	}); err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "complete_workflow", err)
		return err
	}

	status = metrics.StatusProcessed
	log.Info("submission processed", map[string]interface{}{
		"clientId": client.ID,
	})
	return nil
}

// analyze runs the summarizer with its retry budget.
func (p *Pipeline) analyze(ctx context.Context, sub models.Submission) (string, error) {
	var summary string
	err := p.withRetry(ctx, "generate_summary", func(ctx context.Context) error {
		var err error
		summary, err = p.analyzer.Summarize(ctx, NormalizeAnswers(sub))
		return err
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

// upsertClient resolves the contact and writes the client row with the
// database retry budget. Exhaustion parks the submission.
func (p *Pipeline) upsertClient(ctx context.Context, contact identity.Contact, form config.FormConfig, sub models.Submission, summary string) (*models.Client, error) {
	var client *models.Client
	err := p.withRetry(ctx, "resolve_client", func(ctx context.Context) error {
		var err error
		client, err = p.writeClient(ctx, contact, form, sub, summary)
		return err
	})
	if err != nil {
		p.parkSubmission(ctx, form, sub, contact.Email, "resolve_client", err)
		return nil, err
	}
	return client, nil
}

// writeClient is one resolve-and-write attempt. Re-running it after a
// partial failure is safe: a client created on an earlier attempt is found
// by Resolve and routed to update.
func (p *Pipeline) writeClient(ctx context.Context, contact identity.Contact, form config.FormConfig, sub models.Submission, summary string) (*models.Client, error) {
	now := time.Now().UTC()
	formData := flattenAnswers(sub.Answers)

	client, isNew, err := p.router.Resolve(ctx, contact, form.ClientType)
	if err != nil {
		return nil, err
	}

	if isNew {
		client = &models.Client{
			ID:         uuid.New().String(),
			Email:      contact.Email,
			Name:       contact.Name,
			Phone:      contact.Phone,
			ClientType: form.ClientType,
			AgentID:    form.AgentID,
			FormData:   formData,
			AISummary:  summary,
			Status:     models.ClientStatusFormCompleted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.store.CreateClient(ctx, client); err != nil {
			return nil, stderrors.NewDatabaseInsertFailedError("client", err)
		}
		return client, nil
	}

	// Re-submission by a known client: refresh contact details and replace
	// the form payload, never touch identity keys.
	if contact.Name != "" {
		client.Name = contact.Name
	}
	if contact.Phone != "" {
		client.Phone = contact.Phone
	}
	client.FormData = formData
	client.AISummary = summary
	client.Status = models.ClientStatusFormCompleted
	client.UpdatedAt = now

	if err := p.store.UpdateClient(ctx, client); err != nil {
		return nil, stderrors.NewDatabaseInsertFailedError("client", err)
	}
	return client, nil
}

// attachWorkflow finds or creates the client's workflow for the form and
// moves it to form_completed with the submission attached, retrying
// transient store failures. Exhaustion parks the submission.
func (p *Pipeline) attachWorkflow(ctx context.Context, client *models.Client, form config.FormConfig, sub models.Submission) (*models.Workflow, error) {
	var wf *models.Workflow
	err := p.withRetry(ctx, "attach_workflow", func(ctx context.Context) error {
		var err error
		wf, err = p.findOrStartWorkflow(ctx, client, form.ID, sub)
		return err
	})
	if err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "attach_workflow", err)
		return nil, err
	}
	return wf, nil
}

// findOrStartWorkflow is one attempt; a workflow created before a failed
// transition write is found again and HandleSubmission is a no-op past
// form_completed.
func (p *Pipeline) findOrStartWorkflow(ctx context.Context, client *models.Client, formID string, sub models.Submission) (*models.Workflow, error) {
	wf, err := p.store.GetWorkflowByClientAndForm(ctx, client.ID, formID)
	if err == store.ErrNotFound {
		wf, err = p.workflows.CreateForSurvey(ctx, client, formID)
	} else if err != nil {
		return nil, stderrors.NewDatabaseQueryFailedError("workflow", err)
	}
	if err != nil {
		return nil, err
	}

	if err := p.workflows.HandleSubmission(ctx, wf, sub); err != nil {
		return nil, err
	}
	return wf, nil
}

// recordAnalysis writes the analysis row and completes the summary step,
// retrying transient store failures; exhaustion parks the submission. The
// bool reports a storage-level duplicate, in which case the caller stops:
// the submission's side effects belong to whoever inserted first.
func (p *Pipeline) recordAnalysis(ctx context.Context, form config.FormConfig, client *models.Client, wf *models.Workflow, sub models.Submission, summary string, log logger.Logger) (bool, error) {
	analysis := &models.QualificationAnalysis{
		ID:           uuid.New().String(),
		ClientID:     client.ID,
		ClientEmail:  client.Email,
		ClientType:   client.ClientType,
		AgentID:      client.AgentID,
		FormData:     client.FormData,
		AISummary:    summary,
		Model:        p.analyzer.Model(),
		SubmissionID: sub.ID,
		CreatedAt:    time.Now().UTC(),
	}

	var duplicate bool
	err := p.withRetry(ctx, "record_analysis", func(ctx context.Context) error {
		err := p.store.CreateAnalysis(ctx, analysis)
		if err == store.ErrDuplicateAnalysis {
			duplicate = true
			return nil
		}
		if err != nil {
			return stderrors.NewDatabaseInsertFailedError("analysis", err)
		}
		return nil
	})
	if err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "record_analysis", err)
		return false, err
	}
	if duplicate {
		log.Info("analysis already recorded by another worker", nil)
		return true, nil
	}

	// The analysis row exists now; the step write gets its own budget so a
	// retry cannot re-insert and misread the duplicate as another worker's.
	if err := p.withRetry(ctx, "record_analysis", func(ctx context.Context) error {
		return p.workflows.CompleteStep(ctx, wf, models.StepGenerateSummary)
	}); err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "record_analysis", err)
		return false, err
	}

	if p.indexer != nil {
		if err := p.indexer.IndexAnalysis(ctx, analysis); err != nil {
			log.Warn("analysis not indexed", map[string]interface{}{"error": err.Error()})
		}
	}
	return false, nil
}

func (p *Pipeline) generateReport(ctx context.Context, client *models.Client, wf *models.Workflow, form config.FormConfig, sub models.Submission, summary string) (string, error) {
	var url string
	err := p.withRetry(ctx, "generate_report", func(ctx context.Context) error {
		var err error
		url, err = p.artifacts.CreateReport(ctx, client, summary)
		return err
	})
	if err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "generate_report", err)
		return "", err
	}

	if err := p.withRetry(ctx, "generate_report", func(ctx context.Context) error {
		return p.workflows.RecordArtifact(ctx, wf)
	}); err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "generate_report", err)
		return "", err
	}
	return url, nil
}

func (p *Pipeline) notifyAgent(ctx context.Context, client *models.Client, wf *models.Workflow, form config.FormConfig, sub models.Submission, summary, reportURL string) error {
	data := notify.ReportReadyData{
		ClientName:  client.Name,
		ClientEmail: client.Email,
		ClientType:  client.ClientType,
		FormID:      form.ID,
		Summary:     summary,
		ReportURL:   reportURL,
	}

	err := p.withRetry(ctx, "notify_agent", func(ctx context.Context) error {
		return p.notifier.NotifyReportReady(ctx, form.AgentEmail, data)
	})
	if err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "notify_agent", err)
		return err
	}

	if err := p.withRetry(ctx, "notify_agent", func(ctx context.Context) error {
		return p.workflows.RecordNotification(ctx, wf)
	}); err != nil {
		p.parkSubmission(ctx, form, sub, client.Email, "notify_agent", err)
		return err
	}
	return nil
}

// parkSubmission dead-letters a submission whose stage exhausted its
// retries and alerts operators. The workflow is left at form_completed for
// manual re-drive.
func (p *Pipeline) parkSubmission(ctx context.Context, form config.FormConfig, sub models.Submission, clientEmail, stage string, cause error) {
	code := string(stderrors.CodeOf(cause))

	dl := &models.DeadLetter{
		ID:           uuid.New().String(),
		SubmissionID: sub.ID,
		FormID:       form.ID,
		ClientEmail:  clientEmail,
		Stage:        stage,
		ErrorCode:    code,
		ErrorDetail:  cause.Error(),
		Payload:      flattenAnswers(sub.Answers),
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.CreateDeadLetter(ctx, dl); err != nil {
		p.logger.Error("failed to persist dead letter", map[string]interface{}{
			"submissionId": sub.ID,
			"stage":        stage,
			"error":        err.Error(),
		})
	}
	metrics.DeadLettersTotal.Inc()

	if p.alerter != nil {
		p.alerter.AlertDeadLetter(ctx, notify.DeadLetterAlertData{
			SubmissionID: sub.ID,
			FormID:       form.ID,
			ClientEmail:  clientEmail,
			Stage:        stage,
			ErrorCode:    code,
			ErrorDetail:  cause.Error(),
		})
	}

	p.logger.Error("submission parked for manual review", map[string]interface{}{
		"submissionId": sub.ID,
		"stage":        stage,
		"errorCode":    code,
	})
}

// withRetry runs fn with the error-code retry budget and exponential
// backoff. The budget is bounded and in-run; the outer poll cadence is not
// a retry mechanism for these stages.
func (p *Pipeline) withRetry(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		code := stderrors.CodeOf(lastErr)
		metrics.StageFailuresTotal.WithLabelValues(stage, string(code)).Inc()

		if !stderrors.IsRetryable(lastErr) || attempt >= stderrors.GetRetryCount(code) {
			return lastErr
		}

		delay := p.retryBase << uint(attempt)
		p.logger.Warn("stage failed, retrying", map[string]interface{}{
			"stage":   stage,
			"attempt": attempt + 1,
			"delayMs": delay.Milliseconds(),
			"error":   lastErr.Error(),
		})

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
}

// clientLock is a per-identity mutex with a waiter count, so lockClient can
// drop the map entry once the last holder releases it.
type clientLock struct {
	mu   sync.Mutex
	refs int
}

func (p *Pipeline) lockClient(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &clientLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// NormalizeAnswers flattens a submission's answers into the stable text
// block fed to the analyzer: one "label: value" line per field, sorted by
// field key so identical submissions normalize identically.
func NormalizeAnswers(sub models.Submission) string {
	keys := make([]string, 0, len(sub.Answers))
	for k := range sub.Answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		ans := sub.Answers[k]
		label := ans.Label
		if label == "" {
			label = k
		}
		fmt.Fprintf(&b, "%s: %v\n", label, ans.Answer)
	}
	return b.String()
}

func flattenAnswers(answers map[string]models.Answer) map[string]interface{} {
	out := make(map[string]interface{}, len(answers))
	for k, a := range answers {
		key := a.Label
		if key == "" {
			key = k
		}
		out[key] = a.Answer
	}
	return out
}
