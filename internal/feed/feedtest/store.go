// Package feedtest provides an in-memory feed.Store for tests.
package feedtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mangohabit/feedcore/internal/feed"
)

// Response is a scripted reply to one Query call.
type Response struct {
	Items []feed.Item
	Next  string // empty means exhausted
	Err   error
}

// LikeCall records one WriteLikeDelta invocation.
type LikeCall struct {
	ItemID string
	UserID string
	Dir    feed.LikeDirection
}

// Store is a scripted feed.Store. Query replies are looked up by channel
// filter and token. Gates let a test hold a call in flight.
type Store struct {
	mu        sync.Mutex
	pages     map[string]Response
	queries   []string
	likes     []LikeCall
	likeErrs  []error
	likeBase  map[string]int64
	likers    map[string]map[string]bool
	likeGate  chan struct{}
	queryGate chan struct{}
	started   chan struct{}
}

// NewStore creates an empty scripted store.
func NewStore() *Store {
	return &Store{
		pages:     make(map[string]Response),
		likeBase:  make(map[string]int64),
		likers:    make(map[string]map[string]bool),
		started:   make(chan struct{}, 64),
	}
}

// QueryKey is the lookup key for a filter and token.
func QueryKey(f feed.Filter, token string) string {
	return fmt.Sprintf("%s|%s|%s|%s", f.Category, f.Sort, f.Author, token)
}

// SetPage scripts the reply for key's page at token ("" is the first page).
func (s *Store) SetPage(key feed.ChannelKey, token string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[QueryKey(key.Filter(0), token)] = resp
}

// SetLikeCount sets the likes itemID has from users no test writes for. The
// authoritative count is this base plus the users currently liking it.
func (s *Store) SetLikeCount(itemID string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likeBase[itemID] = n
}

// LikedBy reports whether the store holds userID's like on itemID.
func (s *Store) LikedBy(itemID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likers[itemID][userID]
}

// FailNextLikes makes the next like writes return errs in order.
func (s *Store) FailNextLikes(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likeErrs = append(s.likeErrs, errs...)
}

// GateQueries makes Query block until the returned release is called.
func (s *Store) GateQueries() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.queryGate = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// GateLikes makes WriteLikeDelta block until the returned release is called.
func (s *Store) GateLikes() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.likeGate = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Started receives one value each time a gated call begins.
func (s *Store) Started() <-chan struct{} { return s.started }

// Queries returns the query keys seen so far.
func (s *Store) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Likes returns the like writes seen so far.
func (s *Store) Likes() []LikeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LikeCall(nil), s.likes...)
}

// Query implements feed.Store.
func (s *Store) Query(ctx context.Context, f feed.Filter, token string) (feed.StorePage, error) {
	f.Limit = 0
	k := QueryKey(f, token)
	s.mu.Lock()
	s.queries = append(s.queries, k)
	gate := s.queryGate
	resp, ok := s.pages[k]
	s.mu.Unlock()

	if gate != nil {
		s.started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return feed.StorePage{}, ctx.Err()
		}
	}
	if !ok {
		return feed.StorePage{}, fmt.Errorf("no page scripted for %s", k)
	}
	if resp.Err != nil {
		return feed.StorePage{}, resp.Err
	}
	return feed.StorePage{Items: resp.Items, NextToken: resp.Next, HasMore: resp.Next != ""}, nil
}

// WriteLikeDelta implements feed.Store.
func (s *Store) WriteLikeDelta(ctx context.Context, itemID, userID string, dir feed.LikeDirection) (feed.LikeResult, error) {
	s.mu.Lock()
	s.likes = append(s.likes, LikeCall{ItemID: itemID, UserID: userID, Dir: dir})
	gate := s.likeGate
	var err error
	if len(s.likeErrs) > 0 {
		err = s.likeErrs[0]
		s.likeErrs = s.likeErrs[1:]
	}
	s.mu.Unlock()

	if gate != nil {
		s.started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return feed.LikeResult{}, ctx.Err()
		}
	}
	if err != nil {
		return feed.LikeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.likers[itemID] == nil {
		s.likers[itemID] = make(map[string]bool)
	}
	if dir == feed.Like {
		s.likers[itemID][userID] = true
	} else {
		delete(s.likers[itemID], userID)
	}
	return feed.LikeResult{LikeCount: s.likeBase[itemID] + int64(len(s.likers[itemID]))}, nil
}

// Post builds a test item.
func Post(id string, likes int64, likedBy ...string) feed.Item {
	return feed.Item{ID: id, AuthorID: "author-" + id, Title: "post " + id, LikeCount: likes, LikedBy: likedBy}
}
