package like

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/pkg/logging"
	"github.com/mangohabit/feedcore/pkg/telemetry"
)

// ErrItemNotCached is returned when toggling an item the cache does not hold.
var ErrItemNotCached = errors.New("item not in cache")

// Writer issues like writes to the store.
type Writer interface {
	WriteLikeDelta(ctx context.Context, itemID, userID string, dir feed.LikeDirection) (feed.LikeResult, error)
}

// ItemCache is the part of the channel cache the engine needs.
type ItemCache interface {
	Item(itemID string) (feed.Item, bool)
	PatchItem(itemID string, fn func(feed.Item) feed.Item) (feed.Item, bool)
	Hold(itemID string) func()
}

// WriteFailure is reported when a like write fails and the optimistic change
// has been rolled back.
type WriteFailure struct {
	ItemID string
	UserID string
	Kind   Kind
	Cause  error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("%s %s by %s: %v", e.Kind, e.ItemID, e.UserID, e.Cause)
}

func (e *WriteFailure) Unwrap() error { return e.Cause }

// Options configures an Engine.
type Options struct {
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

type pairKey struct {
	userID string
	itemID string
}

// Engine applies like toggles to the cache immediately and settles them
// against the store in the background. There is at most one PendingMutation
// per (user, item); toggles made while it is pending are coalesced into it.
//
// Cache patches run outside mu so channel listeners may read the engine.
// applyMu keeps them in the order their state changes were made and is taken
// before mu. Listeners must not toggle.
type Engine struct {
	cache   ItemCache
	writer  Writer
	timeout time.Duration
	logger  *zap.Logger

	applyMu   sync.Mutex
	mu        sync.Mutex
	pending   map[pairKey]*PendingMutation
	onFailure []func(*WriteFailure)
	inFlight  sync.WaitGroup
}

type patchFunc func(feed.Item) feed.Item

// NewEngine creates an engine patching cache and writing through writer.
func NewEngine(cache ItemCache, writer Writer, opts Options) *Engine {
	e := &Engine{
		cache:   cache,
		writer:  writer,
		timeout: opts.WriteTimeout,
		logger:  opts.Logger,
		pending: make(map[pairKey]*PendingMutation),
	}
	if e.timeout <= 0 {
		e.timeout = 10 * time.Second
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("like-engine")
	}
	return e
}

// OnFailure registers fn to be told about rolled back writes. fn runs on the
// engine's background goroutine and must not block.
func (e *Engine) OnFailure(fn func(*WriteFailure)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailure = append(e.onFailure, fn)
}

// Pending returns the active mutation for the pair, if any.
func (e *Engine) Pending(userID, itemID string) (*PendingMutation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.pending[pairKey{userID: userID, itemID: itemID}]
	return m, ok
}

// ToggleLike flips userID's like on itemID in every channel at once and
// returns the mutation tracking it. If a mutation for the pair is already
// pending, the toggle is folded into it and no extra write is issued until the
// in-flight one settles.
func (e *Engine) ToggleLike(ctx context.Context, userID, itemID string) (*PendingMutation, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	m, patch, err := e.toggleLocked(ctx, pairKey{userID: userID, itemID: itemID})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.cache.PatchItem(itemID, patch)
	return m, nil
}

func (e *Engine) toggleLocked(ctx context.Context, key pairKey) (*PendingMutation, patchFunc, error) {
	userID, itemID := key.userID, key.itemID

	if m, ok := e.pending[key]; ok {
		desired := !m.desired
		m.setDesired(desired)
		e.logger.Debug("Coalesced like toggle",
			zap.String("item_id", itemID),
			zap.String("user_id", userID),
			zap.Bool("liked", desired))
		return m, func(it feed.Item) feed.Item { return it.WithLike(userID, desired) }, nil
	}

	snapshot, ok := e.cache.Item(itemID)
	if !ok {
		return nil, nil, ErrItemNotCached
	}
	desired := !snapshot.IsLikedBy(userID)

	m := newPendingMutation(itemID, userID, snapshot, desired)
	m.release = e.cache.Hold(itemID)
	e.pending[key] = m

	e.inFlight.Add(1)
	go e.settle(context.WithoutCancel(ctx), key, m, desired)
	return m, func(it feed.Item) feed.Item { return it.WithLike(userID, desired) }, nil
}

// settle issues writes until the store holds the mutation's desired state or a
// write fails.
func (e *Engine) settle(ctx context.Context, key pairKey, m *PendingMutation, dir bool) {
	defer e.inFlight.Done()

	for {
		res, err := e.write(ctx, m, dir)

		e.applyMu.Lock()
		e.mu.Lock()
		if err == nil {
			m.confirm(dir, res.LikeCount)
		}
		desired := m.desired
		var (
			patch   patchFunc
			failure *WriteFailure
		)
		switch {
		case err == nil && dir == desired:
			patch = e.commitLocked(key, m)
		case err == nil:
			// The user changed their mind while the write was in flight.
			dir = desired
			e.mu.Unlock()
			e.applyMu.Unlock()
			continue
		case desired == m.stored:
			// The store already holds what the user ended up wanting.
			e.logger.Debug("Like write failed but final state matches store",
				zap.String("item_id", m.ItemID), zap.String("user_id", m.UserID), zap.Error(err))
			patch = e.commitLocked(key, m)
		default:
			patch, failure = e.rollbackLocked(key, m, err)
		}
		listeners := append([]func(*WriteFailure){}, e.onFailure...)
		e.mu.Unlock()

		if patch != nil {
			e.cache.PatchItem(m.ItemID, patch)
		}
		if failure != nil {
			m.finish(StatusFailed, failure)
		} else {
			m.finish(StatusCommitted, nil)
		}
		e.applyMu.Unlock()

		if failure != nil {
			for _, fn := range listeners {
				fn(failure)
			}
		}
		return
	}
}

func (e *Engine) write(ctx context.Context, m *PendingMutation, liked bool) (feed.LikeResult, error) {
	dir := feed.Unlike
	if liked {
		dir = feed.Like
	}
	ctx, span := telemetry.StartSpan(ctx, "like.write")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	telemetry.Add(ctx, telemetry.Metrics().LikeWrites, attribute.String("direction", dir.String()))
	res, err := e.writer.WriteLikeDelta(ctx, m.ItemID, m.UserID, dir)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// commitLocked reconciles the cached count with the store's authoritative one.
// Membership is already right; the count may differ because of other users.
// Likes other users still have in flight are not in the store yet, so their
// optimistic effect is kept on top.
func (e *Engine) commitLocked(key pairKey, m *PendingMutation) patchFunc {
	delete(e.pending, key)
	if m.storedCount == nil {
		return nil
	}
	count := *m.storedCount + e.optimisticLocked(m.ItemID)
	return func(it feed.Item) feed.Item {
		if it.LikeCount != count {
			e.logger.Debug("Reconciled like count",
				zap.String("item_id", m.ItemID),
				zap.Int64("local", it.LikeCount),
				zap.Int64("store", count))
			it.LikeCount = count
		}
		return it
	}
}

// rollbackLocked undoes only this user's effect on the item. Membership goes
// back to what the store last confirmed. If an earlier write of this mutation
// succeeded, the count is reconciled like a commit; otherwise it moves by the
// inverse of the optimistic change so other users' pending likes survive.
func (e *Engine) rollbackLocked(key pairKey, m *PendingMutation, cause error) (patchFunc, *WriteFailure) {
	delete(e.pending, key)
	liked := m.stored
	var count *int64
	if m.storedCount != nil {
		n := *m.storedCount + e.optimisticLocked(m.ItemID)
		count = &n
	}
	patch := func(it feed.Item) feed.Item {
		it = it.WithLike(m.UserID, liked)
		if count != nil {
			it.LikeCount = *count
		}
		return it
	}

	failure := &WriteFailure{ItemID: m.ItemID, UserID: m.UserID, Kind: m.Kind(), Cause: cause}
	telemetry.Add(context.Background(), telemetry.Metrics().LikeRollbacks)
	e.logger.Warn("Like write failed, rolled back",
		zap.String("item_id", m.ItemID),
		zap.String("user_id", m.UserID),
		zap.String("kind", string(failure.Kind)),
		zap.Error(cause))
	return patch, failure
}

// optimisticLocked sums the count change pending mutations on itemID have
// applied to the cache but the store has not confirmed.
func (e *Engine) optimisticLocked(itemID string) int64 {
	var n int64
	for _, m := range e.pending {
		if m.ItemID != itemID || m.desired == m.stored {
			continue
		}
		if m.desired {
			n++
		} else {
			n--
		}
	}
	return n
}

// Wait blocks until every issued write has settled.
func (e *Engine) Wait() {
	e.inFlight.Wait()
}
