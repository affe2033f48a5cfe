// internal/cursor/manager.go
// Package cursor tracks the per-form timestamp watermark below which all
// submissions are known processed.
package cursor

import (
	"context"
	"sync"
	"time"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

// Manager owns the cursors for all tracked forms. Cursors are loaded from
// and persisted to the store at every advance so a restart neither
// reprocesses history nor skips data. The in-memory cache only short-cuts
// reads; the store is the source of truth.
type Manager struct {
	store  store.Store
	logger logger.Logger

	mu    sync.Mutex
	cache map[string]time.Time
}

func NewManager(st store.Store, log logger.Logger) *Manager {
	return &Manager{
		store:  st,
		logger: log.WithFields(map[string]interface{}{"component": "cursor-manager"}),
		cache:  make(map[string]time.Time),
	}
}

// Since returns the current watermark for the form. A form with no stored
// cursor starts at the zero time, so its whole history is fetched once.
func (m *Manager) Since(ctx context.Context, formID string) (time.Time, error) {
	m.mu.Lock()
	if t, ok := m.cache[formID]; ok {
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	cur, err := m.store.GetCursor(ctx, formID)
	if err == store.ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, stderrors.NewDatabaseQueryFailedError("cursor", err)
	}

	m.mu.Lock()
	m.cache[formID] = cur.LastProcessedTime
	m.mu.Unlock()
	return cur.LastProcessedTime, nil
}

// Advance moves the watermark to the maximum CreatedAt over the whole
// fetched batch. It never moves backward and is a no-op for an empty batch.
// The new value is persisted before the cache is updated, so a failed write
// leaves the watermark where it was.
func (m *Manager) Advance(ctx context.Context, formID string, batch []models.Submission) error {
	if len(batch) == 0 {
		return nil
	}

	var max time.Time
	for _, sub := range batch {
		if sub.CreatedAt.After(max) {
			max = sub.CreatedAt
		}
	}

	m.mu.Lock()
	current := m.cache[formID]
	m.mu.Unlock()
	if !max.After(current) {
		return nil
	}

	err := m.store.SaveCursor(ctx, &models.PollingCursor{
		FormID:            formID,
		LastProcessedTime: max,
		UpdatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return stderrors.NewDatabaseInsertFailedError("cursor", err)
	}

	m.mu.Lock()
	m.cache[formID] = max
	m.mu.Unlock()

	m.logger.Debug("cursor advanced", map[string]interface{}{
		"formId":    formID,
		"watermark": max.Format(time.RFC3339),
	})
	return nil
}
