// internal/guard/guard.go
// Package guard enforces the at-most-one-analysis-per-submission invariant.
package guard

import (
	"context"
	"time"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/store"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "intake:inflight:"

// Guard combines two checks before any side effect beyond the raw client
// update runs. The authoritative check is the analysis row keyed by
// submission id in the store; the Redis SETNX in-flight marker is the
// second line of defense against races between concurrent workers that
// both observed the submission before the cursor advanced.
type Guard struct {
	store  store.Store
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func New(st store.Store, rdb *redis.Client, ttl time.Duration, log logger.Logger) *Guard {
	return &Guard{
		store:  st,
		redis:  rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "idempotency-guard"}),
	}
}

// Processed reports whether an analysis already exists for the submission.
func (g *Guard) Processed(ctx context.Context, submissionID string) (bool, error) {
	_, err := g.store.GetAnalysisBySubmission(ctx, submissionID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, stderrors.NewDatabaseQueryFailedError("analysis", err)
	}
	return true, nil
}

// Acquire takes the in-flight marker for the submission. A false return
// means another worker is processing (or just processed) the same
// submission. A Redis failure is logged and treated as acquired: the store
// check and the unique constraint still hold the invariant.
func (g *Guard) Acquire(ctx context.Context, submissionID string) bool {
	if g.redis == nil {
		return true
	}

	ok, err := g.redis.SetNX(ctx, keyPrefix+submissionID, 1, g.ttl).Result()
	if err != nil {
		g.logger.Warn("in-flight marker unavailable, falling back to store check", map[string]interface{}{
			"submissionId": submissionID,
			"error":        err.Error(),
		})
		return true
	}
	return ok
}

// Release drops the in-flight marker so an overlapping poll can retry a
// submission whose run produced no analysis row.
func (g *Guard) Release(ctx context.Context, submissionID string) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Del(ctx, keyPrefix+submissionID).Err(); err != nil {
		g.logger.Warn("failed to release in-flight marker", map[string]interface{}{
			"submissionId": submissionID,
			"error":        err.Error(),
		})
	}
}
