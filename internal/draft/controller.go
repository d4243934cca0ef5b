package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/pkg/logging"
	"github.com/mangohabit/feedcore/pkg/telemetry"
)

var (
	// ErrDecisionPending is returned by edits made while a recover-or-discard
	// decision is open.
	ErrDecisionPending = errors.New("draft recovery decision pending")
	// ErrNoDecisionOpen is returned when resolving without an open decision.
	ErrNoDecisionOpen = errors.New("no draft recovery decision open")
)

// State is the controller's position in the draft lifecycle.
type State string

const (
	StateEmpty     State = "empty"
	StateDirty     State = "dirty"
	StateAwaiting  State = "awaiting"
	StateRecovered State = "recovered"
	StateDiscarded State = "discarded"
	StatePublished State = "published"
)

// Decision is the author's answer to the recovery prompt.
type Decision string

const (
	DecisionRecover Decision = "recover"
	DecisionDiscard Decision = "discard"
)

// Outcome is what PromptIfRecoverable ended with.
type Outcome string

const (
	OutcomeRecovered Outcome = "recovered"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeNone      Outcome = "none"
)

// Prompter asks the author whether to recover a stored draft.
type Prompter interface {
	Prompt(ctx context.Context, d Draft) (Decision, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, d Draft) (Decision, error)

func (f PrompterFunc) Prompt(ctx context.Context, d Draft) (Decision, error) {
	return f(ctx, d)
}

// Options configures a Controller.
type Options struct {
	Debounce    time.Duration
	PromptDelay time.Duration
	Logger      *zap.Logger
}

// Controller owns the edit state of one authoring session and its draft slot.
type Controller struct {
	slot        Slot
	debounce    time.Duration
	promptDelay time.Duration
	logger      *zap.Logger

	// writeMu orders slot writes; taken before mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	resume    State // state to return to if an open decision is abandoned
	current   Draft
	stored    Draft // draft offered by the open decision
	pending   *Draft
	timer     *time.Timer
	revision  int64
	prompted  bool
	unchecked bool // slot not read yet; writes stay in memory
	lastWrite error
}

// NewController creates a controller backed by slot.
func NewController(slot Slot, opts Options) *Controller {
	c := &Controller{
		slot:        slot,
		debounce:    opts.Debounce,
		promptDelay: opts.PromptDelay,
		logger:      opts.Logger,
		state:       StateEmpty,
		current:     Empty(),
		unchecked:   true,
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("draft")
	}
	return c
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the active edit state.
func (c *Controller) Current() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NeedsLeaveGuard reports whether leaving the page would lose edits.
func (c *Controller) NeedsLeaveGuard() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.current.IsPristine()
}

// OnDirty records snapshot as the edit state and schedules a debounced slot
// write. A pristine snapshot clears the slot instead. Until Begin has looked
// at the slot, the write is held in memory so a draft from an earlier visit
// cannot be overwritten before the author is asked about it.
func (c *Controller) OnDirty(snapshot Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAwaiting {
		return ErrDecisionPending
	}

	c.revision++
	snapshot.Revision = c.revision
	if snapshot.Category == "" {
		snapshot.Category = NoCategory
	}
	c.current = snapshot
	if snapshot.IsPristine() {
		c.state = StateEmpty
	} else {
		c.state = StateDirty
	}

	pending := snapshot
	c.pending = &pending
	if c.timer == nil {
		c.timer = time.AfterFunc(c.debounce, c.flushScheduled)
	} else {
		c.timer.Reset(c.debounce)
	}
	return nil
}

func (c *Controller) flushScheduled() {
	// Errors are logged in persist.
	_ = c.Flush(context.Background())
}

// Flush writes the pending snapshot now, if there is one. It keeps the
// snapshot in memory while the slot is unchecked or a decision is open.
func (c *Controller) Flush(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.unchecked || c.state == StateAwaiting {
		c.mu.Unlock()
		return nil
	}
	pending := c.pending
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if pending == nil {
		return nil
	}
	return c.persist(ctx, *pending)
}

// persist must be called with writeMu held.
func (c *Controller) persist(ctx context.Context, d Draft) error {
	var err error
	if d.IsPristine() {
		err = c.slot.Delete(ctx)
	} else {
		var data []byte
		if data, err = encode(d); err == nil {
			err = c.slot.Write(ctx, data)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		failure := &PersistenceFailure{Op: "write", Cause: err}
		c.lastWrite = failure
		c.logger.Warn("Failed to persist draft", zap.Int64("revision", d.Revision), zap.Error(err))
		return failure
	}
	c.lastWrite = nil
	if !d.IsPristine() {
		// A new draft may be offered again on the next entry.
		c.prompted = false
		telemetry.Add(ctx, telemetry.Metrics().DraftWrites, attribute.String("op", "write"))
	} else {
		telemetry.Add(ctx, telemetry.Metrics().DraftWrites, attribute.String("op", "delete"))
	}
	return nil
}

// LastWriteError returns the failure of the most recent slot write, if any.
func (c *Controller) LastWriteError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWrite
}

// Begin opens the recovery decision if a stored draft exists and this
// session has not been asked about it since it was written. Calling Begin
// again while the decision is open returns the same draft.
func (c *Controller) Begin(ctx context.Context) (Draft, bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state == StateAwaiting {
		d := c.stored
		c.mu.Unlock()
		return d, true
	}
	if c.prompted {
		c.mu.Unlock()
		return Draft{}, false
	}
	c.mu.Unlock()

	d, ok := c.read(ctx)

	c.mu.Lock()
	c.unchecked = false
	if !ok {
		// Nothing to recover; edits held back so far can land now.
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		if pending != nil {
			_ = c.persist(ctx, *pending) // logged in persist
		}
		return Draft{}, false
	}
	defer c.mu.Unlock()
	c.prompted = true
	c.resume = c.state
	c.state = StateAwaiting
	c.stored = d
	c.logger.Debug("Opened draft recovery decision", zap.Int64("revision", d.Revision))
	return d, true
}

// read treats every failure as an empty slot.
func (c *Controller) read(ctx context.Context) (Draft, bool) {
	data, ok, err := c.slot.Read(ctx)
	if err != nil {
		c.logger.Warn("Failed to read draft slot", zap.Error(&PersistenceFailure{Op: "read", Cause: err}))
		return Draft{}, false
	}
	if !ok {
		return Draft{}, false
	}
	d, err := decode(data)
	if err != nil {
		c.logger.Warn("Ignoring unreadable draft", zap.Error(&PersistenceFailure{Op: "decode", Cause: err}))
		return Draft{}, false
	}
	if d.IsPristine() {
		return Draft{}, false
	}
	return d, true
}

// Resolve closes the open decision. Recover loads the stored draft into the
// edit state and keeps the slot; discard clears both.
func (c *Controller) Resolve(ctx context.Context, decision Decision) (Outcome, Draft, error) {
	c.mu.Lock()
	if c.state != StateAwaiting {
		c.mu.Unlock()
		return OutcomeNone, Draft{}, ErrNoDecisionOpen
	}

	switch decision {
	case DecisionRecover:
		defer c.mu.Unlock()
		c.state = StateRecovered
		c.current = c.stored
		c.stored = Draft{}
		c.pending = nil
		if c.timer != nil {
			c.timer.Stop()
		}
		if c.current.Revision > c.revision {
			c.revision = c.current.Revision
		}
		c.logger.Info("Recovered draft", zap.Int64("revision", c.current.Revision))
		return OutcomeRecovered, c.current, nil
	case DecisionDiscard:
		c.mu.Unlock()
		err := c.clear(ctx, StateDiscarded)
		c.logger.Info("Discarded draft")
		return OutcomeDiscarded, Empty(), err
	default:
		c.mu.Unlock()
		return OutcomeNone, Draft{}, fmt.Errorf("unknown decision %q", decision)
	}
}

// abandon closes an open decision without an answer.
func (c *Controller) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAwaiting {
		c.state = c.resume
		c.stored = Draft{}
		if c.pending != nil && c.timer != nil {
			c.timer.Reset(c.debounce)
		}
	}
}

// PromptIfRecoverable waits for the prompt delay, then asks p at most once
// per stored draft whether to recover it.
func (c *Controller) PromptIfRecoverable(ctx context.Context, p Prompter) (Outcome, error) {
	if c.promptDelay > 0 {
		t := time.NewTimer(c.promptDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return OutcomeNone, ctx.Err()
		case <-t.C:
		}
	}

	d, ok := c.Begin(ctx)
	if !ok {
		return OutcomeNone, nil
	}

	decision, err := p.Prompt(ctx, d)
	if err != nil {
		c.abandon()
		return OutcomeNone, fmt.Errorf("failed to prompt for draft recovery: %w", err)
	}
	outcome, _, err := c.Resolve(ctx, decision)
	if err != nil {
		c.abandon()
		return outcome, err
	}
	return outcome, nil
}

// Discard drops the edit state and clears the slot.
func (c *Controller) Discard(ctx context.Context) error {
	return c.clear(ctx, StateDiscarded)
}

// Published clears the slot and resets the edit state after a successful
// publish.
func (c *Controller) Published(ctx context.Context) error {
	return c.clear(ctx, StatePublished)
}

func (c *Controller) clear(ctx context.Context, state State) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.state = state
	c.unchecked = false
	c.current = Empty()
	c.stored = Draft{}
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if err := c.slot.Delete(ctx); err != nil {
		c.logger.Warn("Failed to clear draft slot", zap.Error(err))
		return &PersistenceFailure{Op: "delete", Cause: err}
	}
	telemetry.Add(ctx, telemetry.Metrics().DraftWrites, attribute.String("op", "delete"))
	return nil
}
