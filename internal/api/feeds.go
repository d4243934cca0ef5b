package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mangohabit/feedcore/internal/feed"
)

// FeedAPI serves the channel cache
type FeedAPI struct {
	cache      *feed.Cache
	prefetcher *feed.Prefetcher
}

// NewFeedAPI creates a new feed API
func NewFeedAPI(cache *feed.Cache, prefetcher *feed.Prefetcher) *FeedAPI {
	return &FeedAPI{cache: cache, prefetcher: prefetcher}
}

type channelParams struct {
	Category string `json:"category"`
	Sort     string `json:"sort"`
	Author   string `json:"author"`
}

func (p channelParams) key() (feed.ChannelKey, error) {
	key := feed.ChannelKey{Category: p.Category, Sort: feed.Sort(p.Sort), Author: p.Author}
	if key.Category == "" {
		key.Category = feed.CategoryAll
	}
	if key.Sort == "" {
		key.Sort = feed.SortLatest
	}
	if err := key.Validate(); err != nil {
		return feed.ChannelKey{}, invalidParams("%v", err)
	}
	return key, nil
}

// channelResult is the wire form of a channel view
type channelResult struct {
	Key       feed.ChannelKey `json:"key"`
	Items     []feed.Item     `json:"items"`
	Loaded    bool            `json:"loaded"`
	Loading   bool            `json:"loading"`
	Exhausted bool            `json:"exhausted"`
	FreshAt   *time.Time      `json:"fresh_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func toChannelResult(v feed.ChannelView) channelResult {
	res := channelResult{
		Key:       v.Key,
		Items:     v.Items,
		Loaded:    v.Loaded,
		Loading:   v.Loading,
		Exhausted: v.Exhausted,
	}
	if res.Items == nil {
		res.Items = []feed.Item{}
	}
	if !v.FreshAt.IsZero() {
		freshAt := v.FreshAt
		res.FreshAt = &freshAt
	}
	if v.Err != nil {
		res.Error = v.Err.Error()
	}
	return res
}

// GetChannel handles feed.get_channel
func (f *FeedAPI) GetChannel(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p channelParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	key, err := p.key()
	if err != nil {
		return nil, err
	}
	return toChannelResult(f.cache.GetOrCreate(key)), nil
}

// LoadNextPage handles feed.load_next_page
func (f *FeedAPI) LoadNextPage(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p channelParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	key, err := p.key()
	if err != nil {
		return nil, err
	}
	if err := f.cache.LoadNextPage(ctx.Request.Context(), key); err != nil {
		return nil, err
	}
	return toChannelResult(f.cache.GetOrCreate(key)), nil
}

type invalidateParams struct {
	channelParams
	All bool `json:"all"`
}

// Invalidate handles feed.invalidate
func (f *FeedAPI) Invalidate(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p invalidateParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.All {
		f.cache.InvalidateAll()
		return gin.H{"invalidated": "all"}, nil
	}
	key, err := p.key()
	if err != nil {
		return nil, err
	}
	f.cache.Invalidate(key)
	return gin.H{"invalidated": key.String()}, nil
}

type prefetchParams struct {
	channelParams
	Intent string `json:"intent"`
}

// Prefetch handles feed.prefetch
func (f *FeedAPI) Prefetch(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p prefetchParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	key, err := p.key()
	if err != nil {
		return nil, err
	}
	intent := feed.Intent(p.Intent)
	switch intent {
	case feed.IntentHover, feed.IntentViewportNear:
	case "":
		intent = feed.IntentHover
	default:
		return nil, invalidParams("unknown intent %q", p.Intent)
	}
	scheduled := f.prefetcher.Signal(ctx.Request.Context(), key, intent)
	return gin.H{"scheduled": scheduled}, nil
}
