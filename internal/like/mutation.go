package like

import (
	"sync"

	"github.com/mangohabit/feedcore/internal/feed"
)

// Kind is the action a mutation is driving towards.
type Kind string

const (
	KindLike   Kind = "like"
	KindUnlike Kind = "unlike"
)

// Status is the lifecycle state of a mutation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// PendingMutation tracks one optimistic like action from the first toggle
// until the store agrees or the change is rolled back. The engine's lock
// guards desired and the stored fields; mu guards the terminal state.
type PendingMutation struct {
	ItemID string
	UserID string

	snapshot    feed.Item
	desired     bool
	stored      bool   // membership the store last confirmed
	storedCount *int64 // count the store last reported
	release     func()

	mu     sync.Mutex
	kind   Kind
	status Status
	err    error
	done   chan struct{}
}

func newPendingMutation(itemID, userID string, snapshot feed.Item, desired bool) *PendingMutation {
	m := &PendingMutation{
		ItemID:   itemID,
		UserID:   userID,
		snapshot: snapshot.Clone(),
		stored:   snapshot.IsLikedBy(userID),
		status:   StatusPending,
		done:     make(chan struct{}),
	}
	m.setDesired(desired)
	return m
}

// Snapshot returns the item as it was before the first toggle.
func (m *PendingMutation) Snapshot() feed.Item {
	return m.snapshot.Clone()
}

// Kind returns the action the mutation currently resolves to.
func (m *PendingMutation) Kind() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// Status returns the current lifecycle state.
func (m *PendingMutation) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Err returns the *WriteFailure of a failed mutation.
func (m *PendingMutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed once the mutation is committed or failed.
func (m *PendingMutation) Done() <-chan struct{} {
	return m.done
}

func (m *PendingMutation) setDesired(liked bool) {
	m.desired = liked
	m.mu.Lock()
	if liked {
		m.kind = KindLike
	} else {
		m.kind = KindUnlike
	}
	m.mu.Unlock()
}

func (m *PendingMutation) confirm(liked bool, count int64) {
	m.stored = liked
	m.storedCount = &count
}

func (m *PendingMutation) finish(status Status, err error) {
	if m.release != nil {
		m.release()
	}
	m.mu.Lock()
	m.status = status
	m.err = err
	m.mu.Unlock()
	close(m.done)
}
