// internal/guard/guard_test.go
package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

func testGuard(t *testing.T) (*Guard, *store.MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewMemoryStore()
	return New(st, rdb, time.Minute, logger.NewNop()), st
}

func TestProcessed(t *testing.T) {
	g, st := testGuard(t)
	ctx := context.Background()

	processed, err := g.Processed(ctx, "sub-001")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, st.CreateAnalysis(ctx, &models.QualificationAnalysis{
		ID:           "analysis-001",
		SubmissionID: "sub-001",
	}))

	processed, err = g.Processed(ctx, "sub-001")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestAcquireRelease(t *testing.T) {
	g, _ := testGuard(t)
	ctx := context.Background()

	assert.True(t, g.Acquire(ctx, "sub-001"))

	// Second acquire while in flight fails; a different submission is fine.
	assert.False(t, g.Acquire(ctx, "sub-001"))
	assert.True(t, g.Acquire(ctx, "sub-002"))

	g.Release(ctx, "sub-001")
	assert.True(t, g.Acquire(ctx, "sub-001"))
}

func TestAcquire_MarkerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := New(store.NewMemoryStore(), rdb, time.Minute, logger.NewNop())
	ctx := context.Background()

	require.True(t, g.Acquire(ctx, "sub-001"))

	// A crashed worker never releases; the TTL frees the marker.
	mr.FastForward(2 * time.Minute)
	assert.True(t, g.Acquire(ctx, "sub-001"))
}

func TestAcquire_RedisDownFallsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectSetNX("intake:inflight:sub-001", 1, time.Minute).SetErr(errors.New("connection refused"))

	g := New(store.NewMemoryStore(), rdb, time.Minute, logger.NewNop())

	// The store check and unique constraint still hold the invariant, so a
	// Redis outage must not stall processing.
	assert.True(t, g.Acquire(context.Background(), "sub-001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilRedisDisablesMarker(t *testing.T) {
	g := New(store.NewMemoryStore(), nil, time.Minute, logger.NewNop())
	ctx := context.Background()

	assert.True(t, g.Acquire(ctx, "sub-001"))
	assert.True(t, g.Acquire(ctx, "sub-001"))
	g.Release(ctx, "sub-001")
}
