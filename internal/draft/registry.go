package draft

import (
	"context"
	"errors"
	"sync"

	"github.com/mangohabit/feedcore/pkg/logging"
)

// SlotFactory returns the slot that stores sessionID's draft.
type SlotFactory func(sessionID string) Slot

// Registry keeps one Controller per authoring session.
type Registry struct {
	newSlot SlotFactory
	opts    Options

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates a registry. A nil factory gives every session a
// MemorySlot.
func NewRegistry(newSlot SlotFactory, opts Options) *Registry {
	if newSlot == nil {
		newSlot = func(string) Slot { return NewMemorySlot() }
	}
	return &Registry{
		newSlot:     newSlot,
		opts:        opts,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the session's controller, creating it on first use.
func (r *Registry) Get(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[sessionID]; ok {
		return c
	}
	opts := r.opts
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("draft")
	}
	opts.Logger = logging.WithSession(opts.Logger, sessionID)
	c := NewController(r.newSlot(sessionID), opts)
	r.controllers[sessionID] = c
	return c
}

// FlushAll writes every session's pending snapshot. Sessions that have not
// checked their slot yet keep theirs in memory.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range controllers {
		if err := c.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
