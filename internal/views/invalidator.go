package views

import (
	"context"

	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

// Invalidator drops cached read-side views after an order state change
// so clients see the new state on their next read. Invalidation is
// best effort: the database is the source of truth and a failed delete
// only delays freshness until the cache entry expires, so failures are
// logged and swallowed.
type Invalidator struct {
	cache  *redis.Cache
	logger *logger.Logger
}

// NewInvalidator creates a view invalidator.
func NewInvalidator(cache *redis.Cache, log *logger.Logger) *Invalidator {
	return &Invalidator{cache: cache, logger: log}
}

// InvalidateOrderViews drops the client's portfolio view and the
// advisor's dashboard view. Never returns an error.
func (i *Invalidator) InvalidateOrderViews(ctx context.Context, clientUserID, advisorID string) {
	keys := []string{
		redis.PortfolioKey(clientUserID),
		redis.DashboardKey(advisorID),
	}

	for _, key := range keys {
		if err := i.cache.Delete(ctx, key); err != nil {
			i.logger.WithError(err).WithField("key", key).Warn("Failed to invalidate cached view")
		}
	}
}
