package like_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/feed/feedtest"
	"github.com/mangohabit/feedcore/internal/like"
)

var (
	habitLatest  = feed.ChannelKey{Category: "habit", Sort: feed.SortLatest}
	totalPopular = feed.ChannelKey{Category: feed.CategoryAll, Sort: feed.SortPopular}
)

type fixture struct {
	store  *feedtest.Store
	cache  *feed.Cache
	engine *like.Engine
}

// newFixture loads P1 (5 likes, not by U1) into habit/latest and
// total/popular, plus a few other items.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := feedtest.NewStore()
	store.SetPage(habitLatest, "", feedtest.Response{Items: []feed.Item{
		feedtest.Post("P2", 1), feedtest.Post("P1", 5, "U7"), feedtest.Post("P3", 0),
	}})
	store.SetPage(totalPopular, "", feedtest.Response{Items: []feed.Item{
		feedtest.Post("P1", 5, "U7"), feedtest.Post("P4", 2),
	}})
	store.SetLikeCount("P1", 5)

	cache := feed.NewCache(feed.NewSource(store, 10), feed.CacheOptions{})
	require.NoError(t, cache.LoadNextPage(context.Background(), habitLatest))
	require.NoError(t, cache.LoadNextPage(context.Background(), totalPopular))

	return &fixture{
		store:  store,
		cache:  cache,
		engine: like.NewEngine(cache, store, like.Options{WriteTimeout: time.Second}),
	}
}

func (f *fixture) itemIn(t *testing.T, key feed.ChannelKey, id string) feed.Item {
	t.Helper()
	for _, it := range f.cache.GetOrCreate(key).Items {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("item %s not in %s", id, key)
	return feed.Item{}
}

func waitDone(t *testing.T, m *like.PendingMutation) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("mutation did not settle")
	}
}

func TestToggleLikeFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()
	f.store.FailNextLikes(errors.New("permission denied"))

	var failures []*like.WriteFailure
	var mu sync.Mutex
	f.engine.OnFailure(func(wf *like.WriteFailure) {
		mu.Lock()
		failures = append(failures, wf)
		mu.Unlock()
	})

	m, err := f.engine.ToggleLike(context.Background(), "U1", "P1")
	require.NoError(t, err)
	<-f.store.Started()

	optimistic := f.itemIn(t, habitLatest, "P1")
	assert.Equal(t, int64(6), optimistic.LikeCount)
	assert.True(t, optimistic.IsLikedBy("U1"))
	assert.Equal(t, like.StatusPending, m.Status())
	assert.Equal(t, like.KindLike, m.Kind())

	release()
	waitDone(t, m)

	for _, key := range []feed.ChannelKey{habitLatest, totalPopular} {
		it := f.itemIn(t, key, "P1")
		assert.Equal(t, int64(5), it.LikeCount, key.String())
		assert.False(t, it.IsLikedBy("U1"), key.String())
		assert.True(t, it.IsLikedBy("U7"), key.String())
	}
	assert.Equal(t, like.StatusFailed, m.Status())

	var wf *like.WriteFailure
	require.ErrorAs(t, m.Err(), &wf)
	assert.Equal(t, "P1", wf.ItemID)

	mu.Lock()
	assert.Len(t, failures, 1)
	mu.Unlock()

	_, pending := f.engine.Pending("U1", "P1")
	assert.False(t, pending, "failed mutation is destroyed")
}

func TestRollbackAfterChannelReorder(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()
	f.store.FailNextLikes(errors.New("timeout"))

	snapshot := f.itemIn(t, habitLatest, "P1")
	m, err := f.engine.ToggleLike(context.Background(), "U1", "P1")
	require.NoError(t, err)
	<-f.store.Started()

	// The channel is reloaded in a different order while the write is pending.
	f.store.SetPage(habitLatest, "", feedtest.Response{Items: []feed.Item{
		feedtest.Post("P3", 0), feedtest.Post("P2", 1), feedtest.Post("P1", 5, "U7"),
	}})
	f.cache.Invalidate(habitLatest)
	require.NoError(t, f.cache.LoadNextPage(context.Background(), habitLatest))
	assert.True(t, f.itemIn(t, habitLatest, "P1").IsLikedBy("U1"), "pending item keeps its optimistic state")

	release()
	waitDone(t, m)

	after := f.itemIn(t, habitLatest, "P1")
	assert.Equal(t, snapshot.LikeCount, after.LikeCount)
	assert.Equal(t, snapshot.LikedBy, after.LikedBy)
	assert.Equal(t, snapshot, m.Snapshot())
}

func TestToggleLikeVisibleInEveryChannel(t *testing.T) {
	f := newFixture(t)

	m, err := f.engine.ToggleLike(context.Background(), "U1", "P1")
	require.NoError(t, err)

	a := f.itemIn(t, habitLatest, "P1")
	b := f.itemIn(t, totalPopular, "P1")
	assert.Equal(t, a.LikedBy, b.LikedBy)
	assert.Equal(t, a.LikeCount, b.LikeCount)

	waitDone(t, m)
	assert.Equal(t, like.StatusCommitted, m.Status())
	assert.Equal(t, f.itemIn(t, habitLatest, "P1"), f.itemIn(t, totalPopular, "P1"))
	assert.True(t, f.store.LikedBy("P1", "U1"))

	// Toggle back through the same item seen from the other channel.
	m, err = f.engine.ToggleLike(context.Background(), "U1", "P1")
	require.NoError(t, err)
	waitDone(t, m)
	assert.False(t, f.itemIn(t, habitLatest, "P1").IsLikedBy("U1"))
	assert.False(t, f.itemIn(t, totalPopular, "P1").IsLikedBy("U1"))
	assert.Equal(t, int64(5), f.itemIn(t, totalPopular, "P1").LikeCount)
}

func TestRapidTogglesCoalesce(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()

	var views []feed.ChannelView
	var mu sync.Mutex
	unsubscribe := f.cache.Subscribe(habitLatest, func(v feed.ChannelView) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})
	defer unsubscribe()

	ctx := context.Background()
	m1, err := f.engine.ToggleLike(ctx, "U1", "P1") // like
	require.NoError(t, err)
	<-f.store.Started()
	m2, err := f.engine.ToggleLike(ctx, "U1", "P1") // unlike
	require.NoError(t, err)
	m3, err := f.engine.ToggleLike(ctx, "U1", "P1") // like
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Same(t, m1, m3)
	assert.Equal(t, like.KindLike, m1.Kind())

	mu.Lock()
	settledFrom := len(views)
	mu.Unlock()

	release()
	waitDone(t, m1)

	likes := f.store.Likes()
	require.Len(t, likes, 1, "exactly one net write")
	assert.Equal(t, feed.Like, likes[0].Dir)

	mu.Lock()
	defer mu.Unlock()
	for _, v := range views[settledFrom:] {
		for _, it := range v.Items {
			if it.ID == "P1" {
				assert.True(t, it.IsLikedBy("U1"), "never flickers back to unliked")
			}
		}
	}
	final := f.itemIn(t, habitLatest, "P1")
	assert.True(t, final.IsLikedBy("U1"))
	assert.Equal(t, int64(6), final.LikeCount)
}

func TestToggleDuringWriteIssuesCorrection(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()

	ctx := context.Background()
	m, err := f.engine.ToggleLike(ctx, "U1", "P1") // like, in flight
	require.NoError(t, err)
	<-f.store.Started()
	_, err = f.engine.ToggleLike(ctx, "U1", "P1") // unlike while pending
	require.NoError(t, err)
	assert.False(t, f.itemIn(t, habitLatest, "P1").IsLikedBy("U1"))

	release()
	waitDone(t, m)

	likes := f.store.Likes()
	require.Len(t, likes, 2)
	assert.Equal(t, feed.Like, likes[0].Dir)
	assert.Equal(t, feed.Unlike, likes[1].Dir)
	assert.False(t, f.store.LikedBy("P1", "U1"))
	assert.Equal(t, like.StatusCommitted, m.Status())
	assert.Equal(t, int64(5), f.itemIn(t, habitLatest, "P1").LikeCount)
}

func TestFailedWriteMatchingFinalIntentIsNotRolledBack(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()
	f.store.FailNextLikes(errors.New("flaky"))

	ctx := context.Background()
	m, err := f.engine.ToggleLike(ctx, "U1", "P1")
	require.NoError(t, err)
	<-f.store.Started()
	_, err = f.engine.ToggleLike(ctx, "U1", "P1")
	require.NoError(t, err)

	release()
	waitDone(t, m)

	assert.Equal(t, like.StatusCommitted, m.Status())
	assert.NoError(t, m.Err())
	it := f.itemIn(t, habitLatest, "P1")
	assert.False(t, it.IsLikedBy("U1"))
	assert.Equal(t, int64(5), it.LikeCount)
	assert.Len(t, f.store.Likes(), 1)
}

func TestCommitReconcilesAuthoritativeCount(t *testing.T) {
	f := newFixture(t)
	f.store.SetLikeCount("P1", 9) // others liked it meanwhile

	m, err := f.engine.ToggleLike(context.Background(), "U1", "P1")
	require.NoError(t, err)
	waitDone(t, m)

	assert.Equal(t, int64(10), f.itemIn(t, habitLatest, "P1").LikeCount)
	assert.Equal(t, int64(10), f.itemIn(t, totalPopular, "P1").LikeCount)
}

func TestToggleUnknownItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ToggleLike(context.Background(), "U1", "nope")
	assert.ErrorIs(t, err, like.ErrItemNotCached)
}

func TestIndependentPairsDoNotCoalesce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1, err := f.engine.ToggleLike(ctx, "U1", "P1")
	require.NoError(t, err)
	m2, err := f.engine.ToggleLike(ctx, "U2", "P1")
	require.NoError(t, err)
	assert.NotSame(t, m1, m2)

	f.engine.Wait()
	it := f.itemIn(t, habitLatest, "P1")
	assert.True(t, it.IsLikedBy("U1"))
	assert.True(t, it.IsLikedBy("U2"))
	assert.Equal(t, int64(7), it.LikeCount)
}

func TestConcurrentFailuresFromTwoUsersReconverge(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()
	f.store.FailNextLikes(errors.New("offline"), errors.New("offline"))

	ctx := context.Background()
	m1, err := f.engine.ToggleLike(ctx, "U1", "P1")
	require.NoError(t, err)
	<-f.store.Started()
	m2, err := f.engine.ToggleLike(ctx, "U2", "P1")
	require.NoError(t, err)
	<-f.store.Started()

	optimistic := f.itemIn(t, habitLatest, "P1")
	assert.Equal(t, int64(7), optimistic.LikeCount)

	release()
	waitDone(t, m1)
	waitDone(t, m2)

	for _, key := range []feed.ChannelKey{habitLatest, totalPopular} {
		it := f.itemIn(t, key, "P1")
		assert.Equal(t, int64(5), it.LikeCount, key.String())
		assert.Equal(t, []string{"U7"}, it.LikedBy, key.String())
	}
}

func TestCommitKeepsOtherUsersPendingLike(t *testing.T) {
	f := newFixture(t)
	release := f.store.GateLikes()
	f.store.FailNextLikes(nil, errors.New("offline"))

	ctx := context.Background()
	m1, err := f.engine.ToggleLike(ctx, "U1", "P1")
	require.NoError(t, err)
	<-f.store.Started()
	m2, err := f.engine.ToggleLike(ctx, "U2", "P1")
	require.NoError(t, err)
	<-f.store.Started()

	release()
	waitDone(t, m1)
	waitDone(t, m2)

	assert.Equal(t, like.StatusCommitted, m1.Status())
	assert.Equal(t, like.StatusFailed, m2.Status())
	it := f.itemIn(t, habitLatest, "P1")
	assert.Equal(t, int64(6), it.LikeCount)
	assert.Equal(t, []string{"U1", "U7"}, it.LikedBy)
}

func TestListenerMayReadEngine(t *testing.T) {
	f := newFixture(t)

	var seen []bool
	var mu sync.Mutex
	unsubscribe := f.cache.Subscribe(habitLatest, func(feed.ChannelView) {
		_, pending := f.engine.Pending("U1", "P1")
		mu.Lock()
		seen = append(seen, pending)
		mu.Unlock()
	})
	defer unsubscribe()
	mu.Lock()
	seen = nil // drop the initial view
	mu.Unlock()

	done := make(chan *like.PendingMutation, 1)
	go func() {
		m, err := f.engine.ToggleLike(context.Background(), "U1", "P1")
		assert.NoError(t, err)
		done <- m
	}()

	select {
	case m := <-done:
		waitDone(t, m)
	case <-time.After(2 * time.Second):
		t.Fatal("ToggleLike blocked on a listener reading the engine")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0], "optimistic patch is delivered while the mutation is pending")
}
