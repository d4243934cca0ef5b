package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/feed/feedtest"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{
			name:  "single part",
			parts: []string{"test"},
		},
		{
			name:  "multiple parts",
			parts: []string{"feed_page", "0", "habit", "latest", "", "12", ""},
		},
		{
			name:  "empty parts",
			parts: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed1 := HashKey(tt.parts...)
			hashed2 := HashKey(tt.parts...)

			// Hash should be consistent
			if hashed1 != hashed2 {
				t.Errorf("HashKey() should be consistent, got %s and %s", hashed1, hashed2)
			}

			// Hash should be 32 characters (MD5 hex)
			if len(hashed1) != 32 {
				t.Errorf("HashKey() should return 32 character hex string, got length %d", len(hashed1))
			}
		})
	}
}

func TestPageKeyVariesByGeneration(t *testing.T) {
	f := feed.Filter{Category: "habit", Sort: feed.SortLatest, Limit: 12}
	if pageKey(1, f, "") == pageKey(2, f, "") {
		t.Error("pageKey() should change with the generation")
	}
	if pageKey(1, f, "") == pageKey(1, f, "tok") {
		t.Error("pageKey() should change with the token")
	}
}

func TestCache_NamespaceKey(t *testing.T) {
	cache := &Cache{}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "simple key",
			key:      "test",
			expected: "mango:test",
		},
		{
			name:     "draft key",
			key:      DraftKey("s1"),
			expected: "mango:draft:s1:savedData",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "mango:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cache.namespaceKey(tt.key)
			if result != tt.expected {
				t.Errorf("namespaceKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestGetCacheTTL(t *testing.T) {
	tests := []struct {
		sort feed.Sort
		want time.Duration
	}{
		{feed.SortLatest, 3 * time.Second},
		{feed.SortPopular, 30 * time.Second},
		{feed.Sort("other"), 10 * time.Second},
	}
	for _, tt := range tests {
		if got := getCacheTTL(tt.sort); got != tt.want {
			t.Errorf("getCacheTTL(%s) = %v, want %v", tt.sort, got, tt.want)
		}
	}
}

func TestDisabledCache(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Get() error = %v, want ErrCacheDisabled", err)
	}
	if err := c.SetJSON(ctx, "k", 1, time.Second); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("SetJSON() error = %v, want ErrCacheDisabled", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	slot := NewDraftSlot(c, "s1", time.Hour)
	if err := slot.Write(ctx, []byte("{}")); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("DraftSlot.Write() error = %v, want ErrCacheDisabled", err)
	}
	if _, ok, err := slot.Read(ctx); ok || !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("DraftSlot.Read() = %v, %v", ok, err)
	}
}

func TestPageCachePassThrough(t *testing.T) {
	ctx := context.Background()
	key := feed.ChannelKey{Category: "habit", Sort: feed.SortLatest}
	store := feedtest.NewStore()
	store.SetPage(key, "", feedtest.Response{Items: []feed.Item{feedtest.Post("p1", 0)}})

	pc := NewPageCache(store, nil)
	page, err := pc.Query(ctx, key.Filter(12), "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "p1" {
		t.Errorf("Query() items = %v", page.Items)
	}

	res, err := pc.WriteLikeDelta(ctx, "p1", "u1", feed.Like)
	if err != nil {
		t.Fatalf("WriteLikeDelta() error = %v", err)
	}
	if res.LikeCount != 1 {
		t.Errorf("LikeCount = %d, want 1", res.LikeCount)
	}
	if err := pc.Bump(ctx); err != nil {
		t.Errorf("Bump() error = %v", err)
	}
}
