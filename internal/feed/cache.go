package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/pkg/logging"
	"github.com/mangohabit/feedcore/pkg/telemetry"
)

// DefaultStaleAfter is how long a loaded channel is served before it is
// invalidated on the next read.
const DefaultStaleAfter = 60 * time.Second

// CacheOptions configures a Cache.
type CacheOptions struct {
	StaleAfter       time.Duration
	StaleAfterBySort map[Sort]time.Duration
	Now              func() time.Time
	Logger           *zap.Logger
}

type channel struct {
	key       ChannelKey
	ids       []string
	index     map[string]struct{}
	cursor    *Cursor
	loaded    bool
	exhausted bool
	freshAt   time.Time
	loading   bool
	err       error
	gen       uint64 // bumped by invalidation; stale loads are discarded
	listeners map[int]Listener
}

type pooledItem struct {
	item  Item
	holds int
}

type delivery struct {
	view      ChannelView
	listeners []Listener
}

// Cache holds one entry per channel and a single pooled record per item, so an
// item shown in several channels is patched once and seen everywhere.
//
// Reads never touch the network. Pages are loaded only through LoadNextPage,
// and item data changes only through PatchItem.
//
// Listeners are called outside the cache lock, one at a time and in mutation
// order. A listener may call back into the cache; snapshots it causes are
// queued behind the current delivery.
type Cache struct {
	mu       sync.Mutex
	pending  []delivery
	draining bool

	source   PageFetcher
	channels map[ChannelKey]*channel
	items    map[string]*pooledItem
	nextSub  int

	staleAfter       time.Duration
	staleAfterBySort map[Sort]time.Duration
	now              func() time.Time
	logger           *zap.Logger
}

// NewCache creates a channel cache that loads pages from source.
func NewCache(source PageFetcher, opts CacheOptions) *Cache {
	c := &Cache{
		source:           source,
		channels:         make(map[ChannelKey]*channel),
		items:            make(map[string]*pooledItem),
		staleAfter:       opts.StaleAfter,
		staleAfterBySort: opts.StaleAfterBySort,
		now:              opts.Now,
		logger:           opts.Logger,
	}
	if c.staleAfter <= 0 {
		c.staleAfter = DefaultStaleAfter
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("channel-cache")
	}
	return c
}

// StaleAfter returns the staleness threshold for key.
func (c *Cache) StaleAfter(key ChannelKey) time.Duration {
	if d, ok := c.staleAfterBySort[key.Sort]; ok && d > 0 {
		return d
	}
	return c.staleAfter
}

// GetOrCreate returns the channel's current view, creating an empty entry if
// the channel has never been seen.
func (c *Cache) GetOrCreate(key ChannelKey) ChannelView {
	c.mu.Lock()
	ch, invalidated := c.channelLocked(key)
	view := c.viewLocked(ch)
	if !invalidated {
		c.mu.Unlock()
		return view
	}
	c.pruneLocked()
	c.deliverUnlock([]delivery{{view: view, listeners: listenersOf(ch)}})
	return view
}

// Subscribe registers listener for key and immediately sends it the current
// view. The returned function removes the subscription.
func (c *Cache) Subscribe(key ChannelKey, listener Listener) func() {
	c.mu.Lock()
	ch, invalidated := c.channelLocked(key)
	if invalidated {
		c.pruneLocked()
	}
	id := c.nextSub
	c.nextSub++
	ch.listeners[id] = listener

	d := delivery{view: c.viewLocked(ch), listeners: []Listener{listener}}
	if invalidated {
		d.listeners = listenersOf(ch)
	}
	c.deliverUnlock([]delivery{d})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(ch.listeners, id)
			c.mu.Unlock()
		})
	}
}

// LoadNextPage fetches the channel's next page and merges it. It is a no-op
// when a load for the channel is already in flight or the channel is
// exhausted. A failure is recorded on the channel as a retryable error and
// returned as *FetchFailure; items already loaded stay untouched.
func (c *Cache) LoadNextPage(ctx context.Context, key ChannelKey) error {
	_, err := c.load(ctx, key, true)
	return err
}

// load runs one page load. surface controls whether a failure is recorded on
// the channel; prefetches keep their failures to themselves. It reports
// whether a fetch was actually issued.
func (c *Cache) load(ctx context.Context, key ChannelKey, surface bool) (bool, error) {
	c.mu.Lock()
	ch, invalidated := c.channelLocked(key)
	if invalidated {
		c.pruneLocked()
	}
	if ch.loading || ch.exhausted {
		c.mu.Unlock()
		return false, nil
	}
	ch.loading = true
	gen := ch.gen
	cursor := ch.cursor
	c.deliverUnlock([]delivery{{view: c.viewLocked(ch), listeners: listenersOf(ch)}})

	page, err := c.source.FetchPage(ctx, key, cursor)

	attrs := attribute.String("channel", key.String())
	c.mu.Lock()
	if ch.gen != gen {
		// Invalidated while loading; this page belongs to the old sequence.
		c.mu.Unlock()
		c.logger.Debug("Discarded page for invalidated channel", zap.String("channel", key.String()))
		return true, err
	}
	ch.loading = false

	if err != nil {
		if surface {
			ch.err = err
		}
		c.deliverUnlock([]delivery{{view: c.viewLocked(ch), listeners: listenersOf(ch)}})
		telemetry.Add(ctx, telemetry.Metrics().PageLoadFailures, attrs)
		c.logger.Warn("Channel page load failed",
			zap.String("channel", key.String()),
			zap.Bool("surfaced", surface),
			zap.Error(err))
		return true, err
	}

	added := c.mergeLocked(ch, page.Items)
	ch.cursor = page.Next
	ch.exhausted = page.Next == nil
	ch.loaded = true
	ch.freshAt = c.now()
	ch.err = nil
	exhausted := ch.exhausted
	c.deliverUnlock(c.deliveriesLocked(c.channelsWithAny(ch, page.Items)))

	telemetry.Add(ctx, telemetry.Metrics().PageLoads, attrs)
	c.logger.Debug("Channel page loaded",
		zap.String("channel", key.String()),
		zap.Int("fetched", len(page.Items)),
		zap.Int("added", added),
		zap.Bool("exhausted", exhausted))
	return true, nil
}

// mergeLocked appends unseen ids to ch and refreshes pooled items that are not
// held by a pending mutation. An id already in the channel keeps its position.
func (c *Cache) mergeLocked(ch *channel, items []Item) int {
	added := 0
	for _, it := range items {
		if _, dup := ch.index[it.ID]; dup {
			continue
		}
		ch.index[it.ID] = struct{}{}
		ch.ids = append(ch.ids, it.ID)
		added++

		fresh := it.Clone()
		fresh.LikedBy = NormalizeLikedBy(fresh.LikedBy)
		if p, ok := c.items[it.ID]; ok {
			if p.holds == 0 {
				p.item = fresh
			}
			continue
		}
		c.items[it.ID] = &pooledItem{item: fresh}
	}
	return added
}

// channelsWithAny returns ch plus every other channel that holds one of items,
// since refreshing a pooled item changes their views too.
func (c *Cache) channelsWithAny(ch *channel, items []Item) []*channel {
	out := []*channel{ch}
	for _, other := range c.channels {
		if other == ch {
			continue
		}
		for _, it := range items {
			if _, ok := other.index[it.ID]; ok {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// Invalidate clears the channel's items and cursor so the next load starts
// from the first page.
func (c *Cache) Invalidate(key ChannelKey) {
	c.mu.Lock()
	ch, ok := c.channels[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.invalidateLocked(ch)
	c.pruneLocked()
	c.deliverUnlock([]delivery{{view: c.viewLocked(ch), listeners: listenersOf(ch)}})
}

// InvalidateAll invalidates every channel.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	chans := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		c.invalidateLocked(ch)
		chans = append(chans, ch)
	}
	c.pruneLocked()
	c.deliverUnlock(c.deliveriesLocked(chans))
}

// PatchItem applies fn to the pooled item and publishes the result to every
// channel holding it in one step. fn receives a private copy and must not
// change the id. It reports false if the item is not cached.
func (c *Cache) PatchItem(itemID string, fn func(Item) Item) (Item, bool) {
	c.mu.Lock()
	p, ok := c.items[itemID]
	if !ok {
		c.mu.Unlock()
		return Item{}, false
	}
	next := fn(p.item.Clone())
	next.ID = itemID
	next.LikedBy = NormalizeLikedBy(next.LikedBy)
	p.item = next

	var chans []*channel
	for _, ch := range c.channels {
		if _, ok := ch.index[itemID]; ok {
			chans = append(chans, ch)
		}
	}
	out := next.Clone()
	c.deliverUnlock(c.deliveriesLocked(chans))
	return out, true
}

// Item returns a copy of the pooled item.
func (c *Cache) Item(itemID string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[itemID]
	if !ok {
		return Item{}, false
	}
	return p.item.Clone(), true
}

// Hold pins the pooled item so page loads do not overwrite it with server
// copies until the returned release is called. Holding an unknown item is a
// no-op.
func (c *Cache) Hold(itemID string) func() {
	c.mu.Lock()
	p, ok := c.items[itemID]
	if ok {
		p.holds++
	}
	c.mu.Unlock()
	if !ok {
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			p.holds--
			c.mu.Unlock()
		})
	}
}

// IsFresh reports whether the channel holds loaded data younger than within.
func (c *Cache) IsFresh(key ChannelKey, within time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[key]
	if !ok || !ch.loaded {
		return false
	}
	return c.now().Sub(ch.freshAt) <= within
}

// InFlight reports whether a load for the channel is outstanding.
func (c *Cache) InFlight(key ChannelKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[key]
	return ok && ch.loading
}

// channelLocked returns the channel for key, creating it if needed, and
// invalidates it first if its data has gone stale.
func (c *Cache) channelLocked(key ChannelKey) (*channel, bool) {
	ch, ok := c.channels[key]
	if !ok {
		ch = &channel{
			key:       key,
			index:     make(map[string]struct{}),
			listeners: make(map[int]Listener),
		}
		c.channels[key] = ch
		return ch, false
	}
	if ch.loaded && c.now().Sub(ch.freshAt) > c.StaleAfter(key) {
		c.logger.Debug("Channel stale, invalidating", zap.String("channel", key.String()))
		c.invalidateLocked(ch)
		return ch, true
	}
	return ch, false
}

func (c *Cache) invalidateLocked(ch *channel) {
	ch.ids = nil
	ch.index = make(map[string]struct{})
	ch.cursor = nil
	ch.loaded = false
	ch.exhausted = false
	ch.freshAt = time.Time{}
	ch.loading = false
	ch.err = nil
	ch.gen++
}

// pruneLocked drops pooled items no channel references and nobody holds.
func (c *Cache) pruneLocked() {
	referenced := make(map[string]struct{}, len(c.items))
	for _, ch := range c.channels {
		for id := range ch.index {
			referenced[id] = struct{}{}
		}
	}
	for id, p := range c.items {
		if _, ok := referenced[id]; !ok && p.holds == 0 {
			delete(c.items, id)
		}
	}
}

func (c *Cache) viewLocked(ch *channel) ChannelView {
	items := make([]Item, 0, len(ch.ids))
	for _, id := range ch.ids {
		if p, ok := c.items[id]; ok {
			items = append(items, p.item.Clone())
		}
	}
	return ChannelView{
		Key:       ch.key,
		Items:     items,
		Loaded:    ch.loaded,
		Loading:   ch.loading,
		Exhausted: ch.exhausted,
		FreshAt:   ch.freshAt,
		Err:       ch.err,
	}
}

func (c *Cache) deliveriesLocked(chans []*channel) []delivery {
	sort.Slice(chans, func(i, j int) bool { return chans[i].key.String() < chans[j].key.String() })
	out := make([]delivery, 0, len(chans))
	for _, ch := range chans {
		out = append(out, delivery{view: c.viewLocked(ch), listeners: listenersOf(ch)})
	}
	return out
}

// deliverUnlock queues the snapshots and releases c.mu. The snapshots were all
// taken under the same lock, so no listener can observe a half-applied change.
// The first caller to find the queue idle drains it; others only enqueue.
func (c *Cache) deliverUnlock(ds []delivery) {
	c.pending = append(c.pending, ds...)
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, d := range batch {
			for _, l := range d.listeners {
				l(d.view)
			}
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func listenersOf(ch *channel) []Listener {
	if len(ch.listeners) == 0 {
		return nil
	}
	ids := make([]int, 0, len(ch.listeners))
	for id := range ch.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, ch.listeners[id])
	}
	return out
}
