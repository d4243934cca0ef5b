package cache

import (
	"context"
	"errors"
	"time"
)

// DraftSlot stores one session's draft in Redis. It satisfies draft.Slot.
type DraftSlot struct {
	cache *Cache
	key   string
	ttl   time.Duration
}

// NewDraftSlot returns the slot for sessionID. Entries expire after ttl
// without a write.
func NewDraftSlot(c *Cache, sessionID string, ttl time.Duration) *DraftSlot {
	return &DraftSlot{cache: c, key: DraftKey(sessionID), ttl: ttl}
}

// DraftKey is the key, before namespacing, of sessionID's draft.
func DraftKey(sessionID string) string {
	return "draft:" + sessionID + ":savedData"
}

func (s *DraftSlot) Read(ctx context.Context) ([]byte, bool, error) {
	data, err := s.cache.Get(ctx, s.key)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *DraftSlot) Write(ctx context.Context, data []byte) error {
	return s.cache.Set(ctx, s.key, data, s.ttl)
}

func (s *DraftSlot) Delete(ctx context.Context) error {
	return s.cache.Delete(ctx, s.key)
}
