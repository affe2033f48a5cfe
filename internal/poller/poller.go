// internal/poller/poller.go
// Package poller drives the long-lived fetch loop over all tracked forms.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"intake-engine/internal/common/config"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/metrics"
	"intake-engine/internal/cursor"
	"intake-engine/internal/identity"
	"intake-engine/internal/models"
)

// SubmissionSource lists new submissions for a form.
type SubmissionSource interface {
	ListSubmissions(ctx context.Context, formID string, since time.Time) ([]models.Submission, error)
}

// Processor runs the per-submission pipeline.
type Processor interface {
	Process(ctx context.Context, form config.FormConfig, sub models.Submission) error
}

// Poller ticks on a fixed cadence and fans each cycle out over the tracked
// forms with a bounded worker count. A form whose previous cycle is still
// running is skipped for the new cycle; it is never polled concurrently
// with itself.
type Poller struct {
	forms    []config.FormConfig
	source   SubmissionSource
	pipeline Processor
	cursors  *cursor.Manager
	interval time.Duration
	maxForms int
	logger   logger.Logger

	mu       sync.Mutex
	inflight map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(
	forms []config.FormConfig,
	source SubmissionSource,
	pipeline Processor,
	cursors *cursor.Manager,
	interval time.Duration,
	maxForms int,
	log logger.Logger,
) *Poller {
	if maxForms <= 0 {
		maxForms = 1
	}
	return &Poller{
		forms:    forms,
		source:   source,
		pipeline: pipeline,
		cursors:  cursors,
		interval: interval,
		maxForms: maxForms,
		logger:   log.WithFields(map[string]interface{}{"component": "poller"}),
		inflight: make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled. The
// first cycle runs immediately; subsequent cycles follow the configured
// interval.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.doneCh)

	p.logger.Info("poller started", map[string]interface{}{
		"forms":      len(p.forms),
		"intervalMs": p.interval.Milliseconds(),
	})

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the in-progress cycle.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// runCycle polls every tracked form once, bounded by maxForms workers. A
// failing form never blocks the others.
func (p *Poller) runCycle(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxForms)

	for _, form := range p.forms {
		form := form
		if !p.claimForm(form.ID) {
			p.logger.Warn("previous cycle still running for form, skipping", map[string]interface{}{
				"formId": form.ID,
			})
			continue
		}

		g.Go(func() error {
			defer p.releaseForm(form.ID)
			metrics.FormsInFlight.Inc()
			defer metrics.FormsInFlight.Dec()

			p.pollForm(ctx, form)
			return nil
		})
	}

	_ = g.Wait()
	metrics.PollCyclesTotal.Inc()
}

// pollForm fetches one form's new submissions and runs them through the
// pipeline in ascending creation order. The cursor advances after the batch
// regardless of per-submission outcomes; a fetch failure advances nothing.
func (p *Poller) pollForm(ctx context.Context, form config.FormConfig) {
	since, err := p.cursors.Since(ctx, form.ID)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues(form.ID).Inc()
		p.logger.Error("failed to load cursor", map[string]interface{}{
			"formId": form.ID,
			"error":  err.Error(),
		})
		return
	}

	batch, err := p.source.ListSubmissions(ctx, form.ID, since)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues(form.ID).Inc()
		p.logger.Error("failed to fetch submissions", map[string]interface{}{
			"formId": form.ID,
			"error":  err.Error(),
		})
		return
	}
	if len(batch) == 0 {
		return
	}

	p.logger.Info("fetched submissions", map[string]interface{}{
		"formId": form.ID,
		"count":  len(batch),
	})

	for _, sub := range batch {
		if ctx.Err() != nil {
			// Shutdown mid-batch: the cursor has not advanced, the next
			// start refetches the remainder and the guard skips the done
			// ones.
			return
		}
		if err := p.pipeline.Process(ctx, form, sub); err != nil {
			p.logger.Error("submission processing failed", map[string]interface{}{
				"formId":       form.ID,
				"submissionId": sub.ID,
				"error":        err.Error(),
			})
		}
	}

	if err := p.cursors.Advance(ctx, form.ID, batch); err != nil {
		p.logger.Error("failed to advance cursor", map[string]interface{}{
			"formId": form.ID,
			"error":  err.Error(),
		})
	}
}

func (p *Poller) claimForm(formID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[formID] {
		return false
	}
	p.inflight[formID] = true
	return true
}

func (p *Poller) releaseForm(formID string) {
	p.mu.Lock()
	delete(p.inflight, formID)
	p.mu.Unlock()
}

// ProcessTestSubmission injects a synthetic submission for the first
// tracked form, exercising the whole pipeline end to end. Used by the ops
// surface to verify a deployment. The answers use the form's effective
// extraction keys so a form with key overrides still resolves the
// injected identity.
func (p *Poller) ProcessTestSubmission(ctx context.Context, email, name string) error {
	form := p.forms[0]
	schema := identity.DefaultSchema().Merge(form.EmailKeys, form.NameKeys, form.PhoneKeys)
	sub := models.Submission{
		ID:        "test-" + uuid.New().String(),
		FormID:    form.ID,
		CreatedAt: time.Now().UTC(),
		Answers: map[string]models.Answer{
			schema.NameKeys[0]:  {Answer: name, Label: "Name"},
			schema.EmailKeys[0]: {Answer: email, Label: "Email"},
		},
	}

	p.logger.Info("injecting test submission", map[string]interface{}{
		"formId":       form.ID,
		"submissionId": sub.ID,
	})
	return p.pipeline.Process(ctx, form, sub)
}
