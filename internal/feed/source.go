package feed

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mangohabit/feedcore/pkg/telemetry"
)

// LikeDirection is the direction of a like write.
type LikeDirection int

const (
	Unlike LikeDirection = iota
	Like
)

func (d LikeDirection) String() string {
	if d == Like {
		return "like"
	}
	return "unlike"
}

// StorePage is one page returned by the store. NextToken is meaningful only
// when HasMore is set.
type StorePage struct {
	Items     []Item `json:"items"`
	NextToken string `json:"nextToken,omitempty"`
	HasMore   bool   `json:"hasMore"`
}

// LikeResult carries the authoritative like count after a write.
type LikeResult struct {
	LikeCount int64
}

// Store is the document store boundary. Tokens are opaque to the core; an
// empty token requests the first page. WriteLikeDelta must be idempotent.
type Store interface {
	Query(ctx context.Context, filter Filter, token string) (StorePage, error)
	WriteLikeDelta(ctx context.Context, itemID, userID string, dir LikeDirection) (LikeResult, error)
}

// ErrCursorMismatch is returned when a cursor is used against a channel other
// than the one that produced it.
var ErrCursorMismatch = errors.New("cursor belongs to another channel")

// Cursor is an opaque continuation token bound to the channel that produced
// it. Callers can hold and pass cursors but cannot build or inspect them.
type Cursor struct {
	key   ChannelKey
	token string
}

// Page is one page of a channel. A nil Next means the channel is exhausted.
type Page struct {
	Items []Item
	Next  *Cursor
}

// FetchFailure wraps a page load error with the channel it happened on.
type FetchFailure struct {
	Key   ChannelKey
	Cause error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Cause)
}

func (e *FetchFailure) Unwrap() error { return e.Cause }

// PageFetcher loads pages of a channel.
type PageFetcher interface {
	FetchPage(ctx context.Context, key ChannelKey, cursor *Cursor) (Page, error)
}

// Source turns a channel key into a sequence of pages from the store. It keeps
// no state between calls; continuation lives in the returned cursor.
type Source struct {
	store    Store
	pageSize int
}

// NewSource creates a page source over store.
func NewSource(store Store, pageSize int) *Source {
	if pageSize <= 0 {
		pageSize = 12
	}
	return &Source{store: store, pageSize: pageSize}
}

// FetchPage loads the page after cursor, or the first page if cursor is nil.
// Errors are returned as *FetchFailure and never retried here.
func (s *Source) FetchPage(ctx context.Context, key ChannelKey, cursor *Cursor) (Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.fetch_page",
		trace.WithAttributes(attribute.String("channel", key.String())))
	defer span.End()

	if err := key.Validate(); err != nil {
		return Page{}, s.fail(span, key, err)
	}

	token := ""
	if cursor != nil {
		if cursor.key != key {
			return Page{}, s.fail(span, key, ErrCursorMismatch)
		}
		token = cursor.token
	}

	res, err := s.store.Query(ctx, key.Filter(s.pageSize), token)
	if err != nil {
		return Page{}, s.fail(span, key, err)
	}

	page := Page{Items: res.Items}
	if res.HasMore {
		page.Next = &Cursor{key: key, token: res.NextToken}
	}
	span.SetAttributes(attribute.Int("items", len(page.Items)), attribute.Bool("has_more", res.HasMore))
	return page, nil
}

func (s *Source) fail(span trace.Span, key ChannelKey, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	return &FetchFailure{Key: key, Cause: cause}
}
