package classifier

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

const sharedCacheTimeout = 200 * time.Millisecond

// resultCache is a bounded LRU with TTL keyed by the exact query text, with an
// optional shared store behind it. The LRU does its own locking.
type resultCache struct {
	local  *expirable.LRU[string, model.ClassificationResult]
	shared model.ClassificationCacheStore
}

// newResultCache returns nil when both tiers are disabled.
func newResultCache(size int, ttl time.Duration, shared model.ClassificationCacheStore) *resultCache {
	c := &resultCache{shared: shared}
	if size > 0 {
		c.local = expirable.NewLRU[string, model.ClassificationResult](size, nil, ttl)
	}
	if c.local == nil && c.shared == nil {
		return nil
	}
	return c
}

func (c *resultCache) get(ctx context.Context, query string) (model.ClassificationResult, bool) {
	if c == nil {
		return model.ClassificationResult{}, false
	}
	if c.local != nil {
		if res, ok := c.local.Get(query); ok {
			return res, true
		}
	}
	if c.shared == nil {
		return model.ClassificationResult{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, sharedCacheTimeout)
	defer cancel()
	res, err := c.shared.Get(ctx, query)
	if err != nil {
		logx.Warn().Err(err).Str("component", "classifier").Msg("shared classification cache read failed")
		return model.ClassificationResult{}, false
	}
	if res == nil {
		return model.ClassificationResult{}, false
	}
	if c.local != nil {
		c.local.Add(query, *res)
	}
	return *res, true
}

func (c *resultCache) put(ctx context.Context, query string, res model.ClassificationResult) {
	if c == nil || !res.Definitive() {
		return
	}
	res.Cached = false
	if c.local != nil {
		c.local.Add(query, res)
	}
	if c.shared != nil {
		ctx, cancel := context.WithTimeout(ctx, sharedCacheTimeout)
		defer cancel()
		if err := c.shared.Set(ctx, query, res); err != nil {
			logx.Warn().Err(err).Str("component", "classifier").Msg("shared classification cache write failed")
		}
	}
}

// purge empties both tiers and returns the number of entries removed.
func (c *resultCache) purge(ctx context.Context) (int, error) {
	if c == nil {
		return 0, nil
	}
	removed := 0
	if c.local != nil {
		removed = c.local.Len()
		c.local.Purge()
	}
	if c.shared != nil {
		n, err := c.shared.Clear(ctx)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (c *resultCache) len() int {
	if c == nil || c.local == nil {
		return 0
	}
	return c.local.Len()
}
