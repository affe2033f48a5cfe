// internal/cursor/manager_test.go
package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

func subAt(id string, t time.Time) models.Submission {
	return models.Submission{ID: id, FormID: "form-001", CreatedAt: t}
}

func TestSince_NoCursor(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), logger.NewNop())

	since, err := m.Since(context.Background(), "form-001")
	require.NoError(t, err)
	assert.True(t, since.IsZero())
}

func TestAdvance_UsesBatchMaximum(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), logger.NewNop())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Deliberately unordered: the max must win regardless of position.
	batch := []models.Submission{
		subAt("sub-2", base.Add(2*time.Minute)),
		subAt("sub-3", base.Add(5*time.Minute)),
		subAt("sub-1", base.Add(1*time.Minute)),
	}
	require.NoError(t, m.Advance(context.Background(), "form-001", batch))

	since, err := m.Since(context.Background(), "form-001")
	require.NoError(t, err)
	assert.Equal(t, base.Add(5*time.Minute), since)
}

func TestAdvance_NeverMovesBackward(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), logger.NewNop())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.Advance(context.Background(), "form-001", []models.Submission{
		subAt("sub-1", base.Add(10*time.Minute)),
	}))
	require.NoError(t, m.Advance(context.Background(), "form-001", []models.Submission{
		subAt("sub-0", base),
	}))

	since, err := m.Since(context.Background(), "form-001")
	require.NoError(t, err)
	assert.Equal(t, base.Add(10*time.Minute), since)
}

func TestAdvance_EmptyBatchIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, logger.NewNop())

	require.NoError(t, m.Advance(context.Background(), "form-001", nil))
	_, err := st.GetCursor(context.Background(), "form-001")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestAdvance_PersistsAcrossManagers(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := NewManager(st, logger.NewNop())
	require.NoError(t, first.Advance(context.Background(), "form-001", []models.Submission{
		subAt("sub-1", base),
	}))

	// A fresh manager simulates a restart: the watermark must survive.
	second := NewManager(st, logger.NewNop())
	since, err := second.Since(context.Background(), "form-001")
	require.NoError(t, err)
	assert.Equal(t, base, since)
}

func TestCursorsAreIndependentPerForm(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), logger.NewNop())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.Advance(context.Background(), "form-001", []models.Submission{
		subAt("sub-1", base.Add(time.Hour)),
	}))

	since, err := m.Since(context.Background(), "form-002")
	require.NoError(t, err)
	assert.True(t, since.IsZero())
}
