package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/pkg/logging"
)

const generationKey = "feed:generation"

// PageCache caches store pages in Redis in front of a feed.Store. Every like
// write bumps a generation counter that is part of each page key, so cached
// pages never outlive a like change they could contradict. A nil or disabled
// Cache makes it a pass-through.
type PageCache struct {
	store  feed.Store
	cache  *Cache
	logger *zap.Logger
}

// NewPageCache wraps store.
func NewPageCache(store feed.Store, c *Cache) *PageCache {
	return &PageCache{
		store:  store,
		cache:  c,
		logger: logging.WithComponent("page-cache"),
	}
}

// Query serves a page from Redis when possible.
func (p *PageCache) Query(ctx context.Context, f feed.Filter, token string) (feed.StorePage, error) {
	if !p.cache.enabled() {
		return p.store.Query(ctx, f, token)
	}

	gen, err := p.cache.GetInt(ctx, generationKey)
	if err != nil {
		p.logger.Warn("Failed to read page generation", zap.Error(err))
		return p.store.Query(ctx, f, token)
	}
	key := pageKey(gen, f, token)

	var page feed.StorePage
	if err := p.cache.GetJSON(ctx, key, &page); err == nil {
		return page, nil
	}

	page, err = p.store.Query(ctx, f, token)
	if err != nil {
		return feed.StorePage{}, err
	}
	if err := p.cache.SetJSON(ctx, key, page, getCacheTTL(f.Sort)); err != nil {
		// Log error but don't fail the request
		p.logger.Warn("Failed to cache page", zap.String("channel", f.Category), zap.Error(err))
	}
	return page, nil
}

// WriteLikeDelta writes through and retires every cached page.
func (p *PageCache) WriteLikeDelta(ctx context.Context, itemID, userID string, dir feed.LikeDirection) (feed.LikeResult, error) {
	res, err := p.store.WriteLikeDelta(ctx, itemID, userID, dir)
	if err != nil {
		return res, err
	}
	if p.cache.enabled() {
		if _, err := p.cache.Incr(ctx, generationKey); err != nil {
			p.logger.Warn("Failed to bump page generation", zap.Error(err))
		}
	}
	return res, nil
}

// Bump retires every cached page, e.g. after a publish.
func (p *PageCache) Bump(ctx context.Context) error {
	if !p.cache.enabled() {
		return nil
	}
	if _, err := p.cache.Incr(ctx, generationKey); err != nil {
		return fmt.Errorf("failed to bump page generation: %w", err)
	}
	return nil
}

func pageKey(gen int64, f feed.Filter, token string) string {
	return HashKey(
		"feed_page",
		strconv.FormatInt(gen, 10),
		f.Category,
		string(f.Sort),
		f.Author,
		strconv.Itoa(f.Limit),
		token,
	)
}

// getCacheTTL returns cache TTL based on sort type
func getCacheTTL(sort feed.Sort) time.Duration {
	switch sort {
	case feed.SortLatest:
		return 3 * time.Second
	case feed.SortPopular:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}
