package feed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/feed/feedtest"
)

func newPrefetcher(cache *feed.Cache) *feed.Prefetcher {
	return feed.NewPrefetcher(cache, feed.PrefetchOptions{StaleAfter: 5 * time.Minute, Timeout: time.Second})
}

func TestPrefetchHover(t *testing.T) {
	clock := newClock()
	store := feedtest.NewStore()
	store.SetPage(totalPopular, "", feedtest.Response{Items: []feed.Item{feedtest.Post("p1", 0)}, Next: "c1"})

	cache := feed.NewCache(feed.NewSource(store, 2), feed.CacheOptions{
		Now:              clock.Now,
		StaleAfterBySort: map[feed.Sort]time.Duration{feed.SortPopular: 10 * time.Minute},
	})
	p := newPrefetcher(cache)

	assert.True(t, p.Signal(context.Background(), totalPopular, feed.IntentHover))
	p.Wait()
	assert.Equal(t, []string{"p1"}, ids(cache.GetOrCreate(totalPopular)))

	assert.False(t, p.Signal(context.Background(), totalPopular, feed.IntentHover), "fresh data is not refetched")
	p.Wait()
	assert.Len(t, store.Queries(), 1)

	clock.Advance(6 * time.Minute)
	store.SetPage(totalPopular, "c1", feedtest.Response{Items: []feed.Item{feedtest.Post("p2", 0)}})
	assert.True(t, p.Signal(context.Background(), totalPopular, feed.IntentHover), "older than the prefetch threshold")
	p.Wait()
	assert.Len(t, store.Queries(), 2)
}

func TestPrefetchHoverRefreshesChannelPastItsStaleness(t *testing.T) {
	clock := newClock()
	store := feedtest.NewStore()
	store.SetPage(habitLatest, "", feedtest.Response{Items: []feed.Item{feedtest.Post("p1", 0)}})
	cache := newCache(store, clock)
	p := newPrefetcher(cache)

	require.NoError(t, cache.LoadNextPage(context.Background(), habitLatest))
	require.Len(t, store.Queries(), 1)

	// Older than the cache's 60s threshold but inside the 5 minute prefetch window.
	clock.Advance(2 * time.Minute)
	assert.True(t, p.Signal(context.Background(), habitLatest, feed.IntentHover))
	p.Wait()
	assert.Len(t, store.Queries(), 2)

	view := cache.GetOrCreate(habitLatest)
	assert.True(t, view.Loaded, "the next read is served warm")
	assert.Equal(t, []string{"p1"}, ids(view))
}

func TestPrefetchWindowOnlyShortensStaleness(t *testing.T) {
	clock := newClock()
	store := feedtest.NewStore()
	store.SetPage(totalPopular, "", feedtest.Response{Items: []feed.Item{feedtest.Post("p1", 0)}, Next: "c1"})
	store.SetPage(totalPopular, "c1", feedtest.Response{Items: []feed.Item{feedtest.Post("p2", 0)}})
	cache := feed.NewCache(feed.NewSource(store, 2), feed.CacheOptions{
		Now:              clock.Now,
		StaleAfterBySort: map[feed.Sort]time.Duration{feed.SortPopular: 10 * time.Minute},
	})
	p := feed.NewPrefetcher(cache, feed.PrefetchOptions{Timeout: time.Second})

	require.NoError(t, cache.LoadNextPage(context.Background(), totalPopular))
	clock.Advance(6 * time.Minute)
	assert.False(t, p.Signal(context.Background(), totalPopular, feed.IntentHover), "within the popular threshold")
	assert.Len(t, store.Queries(), 1)
}

func TestPrefetchFailureIsNotSurfaced(t *testing.T) {
	store := feedtest.NewStore()
	store.SetPage(habitLatest, "", feedtest.Response{Err: errors.New("offline")})
	cache := newCache(store, newClock())
	p := newPrefetcher(cache)

	assert.True(t, p.Signal(context.Background(), habitLatest, feed.IntentHover))
	p.Wait()

	view := cache.GetOrCreate(habitLatest)
	assert.NoError(t, view.Err)
	assert.False(t, view.Loading)
	assert.False(t, view.Loaded)
}

func TestPrefetchOutlivesCallerContext(t *testing.T) {
	store := feedtest.NewStore()
	store.SetPage(habitLatest, "", feedtest.Response{Items: []feed.Item{feedtest.Post("p1", 0)}})
	release := store.GateQueries()
	cache := newCache(store, newClock())
	p := newPrefetcher(cache)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, p.Signal(ctx, habitLatest, feed.IntentHover))
	<-store.Started()
	cancel()

	assert.False(t, p.Signal(context.Background(), habitLatest, feed.IntentHover), "load already in flight")

	release()
	p.Wait()
	assert.Equal(t, []string{"p1"}, ids(cache.GetOrCreate(habitLatest)))
}

func TestPrefetchViewportNear(t *testing.T) {
	ctx := context.Background()
	store := feedtest.NewStore()
	store.SetPage(habitLatest, "", feedtest.Response{Items: []feed.Item{feedtest.Post("p1", 0)}, Next: "c1"})
	store.SetPage(habitLatest, "c1", feedtest.Response{Items: []feed.Item{feedtest.Post("p2", 0)}})
	cache := newCache(store, newClock())
	p := newPrefetcher(cache)

	require.NoError(t, cache.LoadNextPage(ctx, habitLatest))

	assert.True(t, p.Signal(ctx, habitLatest, feed.IntentViewportNear), "fresh data does not block the next page")
	p.Wait()
	view := cache.GetOrCreate(habitLatest)
	assert.Equal(t, []string{"p1", "p2"}, ids(view))
	assert.True(t, view.Exhausted)

	assert.False(t, p.Signal(ctx, habitLatest, feed.IntentViewportNear), "exhausted")
}

func TestPrefetchIgnoresBadSignals(t *testing.T) {
	store := feedtest.NewStore()
	cache := newCache(store, newClock())
	p := newPrefetcher(cache)

	assert.False(t, p.Signal(context.Background(), feed.ChannelKey{Category: "habit", Sort: "hot"}, feed.IntentHover))
	assert.False(t, p.Signal(context.Background(), habitLatest, feed.Intent("scroll")))
	p.Wait()
	assert.Empty(t, store.Queries())
}
