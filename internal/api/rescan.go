package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/theorogram/server/internal/cache"
	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/rescan"
)

// InvalidatingRescanner drops cached views of theories that a rescan
// demotes, so they stop being served as published
type InvalidatingRescanner struct {
	next   rescan.Rescanner
	cache  cache.Store
	logger logrus.FieldLogger
}

// NewInvalidatingRescanner wraps next, invalidating store on demotion
func NewInvalidatingRescanner(next rescan.Rescanner, store cache.Store, logger logrus.FieldLogger) *InvalidatingRescanner {
	return &InvalidatingRescanner{next: next, cache: store, logger: logger.WithField("component", "api")}
}

// Rescan delegates to the wrapped rescanner. Invalidation failures are
// logged and never change the outcome.
func (r *InvalidatingRescanner) Rescan(ctx context.Context, id uuid.UUID) (moderation.RescanOutcome, error) {
	outcome, err := r.next.Rescan(ctx, id)
	if outcome != moderation.OutcomeDemoted {
		return outcome, err
	}

	for _, key := range []string{cache.TheoryKey(id), cache.TheoryStatsKey(id)} {
		if cerr := r.cache.Delete(ctx, key); cerr != nil {
			r.logger.WithError(cerr).WithField("key", key).Warn("cache invalidation failed")
		}
	}
	if cerr := r.cache.InvalidatePattern(ctx, cache.TheoriesListPrefix); cerr != nil {
		r.logger.WithError(cerr).Warn("cache invalidation failed")
	}
	return outcome, err
}
