package feed

import (
	"errors"
	"fmt"
	"time"
)

// Sort is the ordering of a channel.
type Sort string

const (
	SortLatest  Sort = "latest"
	SortPopular Sort = "popular"
)

// CategoryAll selects every category.
const CategoryAll = "total"

// ErrInvalidChannel is returned for channel keys the store cannot serve.
var ErrInvalidChannel = errors.New("invalid channel")

// ChannelKey identifies one filtered, sorted view of the feed. Author is empty
// for feeds that are not restricted to one author.
type ChannelKey struct {
	Category string `json:"category"`
	Sort     Sort   `json:"sort"`
	Author   string `json:"author,omitempty"`
}

// String renders the key as category/sort[@author].
func (k ChannelKey) String() string {
	if k.Author != "" {
		return fmt.Sprintf("%s/%s@%s", k.Category, k.Sort, k.Author)
	}
	return fmt.Sprintf("%s/%s", k.Category, k.Sort)
}

// Validate checks the key names a known sort and a category.
func (k ChannelKey) Validate() error {
	if k.Category == "" {
		return fmt.Errorf("%w: empty category", ErrInvalidChannel)
	}
	switch k.Sort {
	case SortLatest, SortPopular:
		return nil
	default:
		return fmt.Errorf("%w: unknown sort %q", ErrInvalidChannel, k.Sort)
	}
}

// Filter is the query a channel runs against the store.
func (k ChannelKey) Filter(limit int) Filter {
	f := Filter{Sort: k.Sort, Author: k.Author, Limit: limit}
	if k.Category != CategoryAll {
		f.Category = k.Category
	}
	return f
}

// Filter is the store-level query for one page.
type Filter struct {
	Category string // empty means any category
	Sort     Sort
	Author   string // empty means any author
	Limit    int
}

// ChannelView is an immutable snapshot of one channel handed to readers.
type ChannelView struct {
	Key       ChannelKey `json:"key"`
	Items     []Item     `json:"items"`
	Loaded    bool       `json:"loaded"`
	Loading   bool       `json:"loading"`
	Exhausted bool       `json:"exhausted"`
	FreshAt   time.Time  `json:"freshAt"`
	Err       error      `json:"-"`
}

// Listener receives channel snapshots.
type Listener func(ChannelView)
