package brands

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/whisperer/whisperer/internal/observability"
)

const cacheKey = "brands"

// Cached memoizes a lister for ttl. Failed lookups are not cached.
type Cached struct {
	next   Lister
	cache  *ttlcache.Cache[string, []Brand]
	logger *slog.Logger
}

func NewCached(next Lister, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		next: next,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []Brand](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Brand](),
		),
		logger: logger,
	}
}

func (c *Cached) ListBrands(ctx context.Context) ([]Brand, error) {
	if item := c.cache.Get(cacheKey); item != nil {
		observability.ObserveBrandCacheLookup(true)
		return append([]Brand(nil), item.Value()...), nil
	}
	observability.ObserveBrandCacheLookup(false)

	list, err := c.next.ListBrands(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "brand listing failed", append(observability.LogAttrs(ctx), "error", err)...)
		return nil, err
	}
	c.cache.Set(cacheKey, append([]Brand(nil), list...), ttlcache.DefaultTTL)
	c.logger.DebugContext(ctx, "brand list refreshed", "count", len(list))
	return list, nil
}

// Invalidate drops the cached list so the next call refetches.
func (c *Cached) Invalidate() {
	c.cache.DeleteAll()
}
