package api

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/draft"
	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/models"
	"github.com/mangohabit/feedcore/pkg/logging"
)

// PageRetirer drops pages cached outside the channel cache
type PageRetirer interface {
	Bump(ctx context.Context) error
}

// DraftAPI serves the draft recovery workflow of each session
type DraftAPI struct {
	drafts *draft.Registry
	posts  PostStore
	cache  *feed.Cache
	pages  PageRetirer
	logger *zap.Logger
}

// NewDraftAPI creates a new draft API. pages may be nil.
func NewDraftAPI(drafts *draft.Registry, posts PostStore, cache *feed.Cache, pages PageRetirer) *DraftAPI {
	return &DraftAPI{
		drafts: drafts,
		posts:  posts,
		cache:  cache,
		pages:  pages,
		logger: logging.WithComponent("draft-api"),
	}
}

func (d *DraftAPI) controller(ctx *gin.Context) (*draft.Controller, error) {
	session, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	return d.drafts.Get(session), nil
}

type draftState struct {
	State      draft.State `json:"state"`
	Draft      draft.Draft `json:"draft"`
	NeedsGuard bool        `json:"needs_guard"`
}

func stateOf(c *draft.Controller) draftState {
	return draftState{State: c.State(), Draft: c.Current(), NeedsGuard: c.NeedsLeaveGuard()}
}

type saveParams struct {
	Draft draft.Draft `json:"draft"`
}

// Save handles draft.save
func (d *DraftAPI) Save(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	var p saveParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := c.OnDirty(p.Draft); err != nil {
		return nil, err
	}
	return stateOf(c), nil
}

// Flush handles draft.flush
func (d *DraftAPI) Flush(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Flush(ctx.Request.Context()); err != nil {
		return nil, err
	}
	return stateOf(c), nil
}

// Begin handles draft.begin
func (d *DraftAPI) Begin(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	stored, ok := c.Begin(ctx.Request.Context())
	if !ok {
		return gin.H{"recoverable": false}, nil
	}
	return gin.H{"recoverable": true, "draft": stored}, nil
}

type resolveParams struct {
	Decision string `json:"decision"`
}

// Resolve handles draft.resolve
func (d *DraftAPI) Resolve(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	var p resolveParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	decision := draft.Decision(p.Decision)
	if decision != draft.DecisionRecover && decision != draft.DecisionDiscard {
		return nil, invalidParams("decision must be %q or %q", draft.DecisionRecover, draft.DecisionDiscard)
	}
	outcome, current, err := c.Resolve(ctx.Request.Context(), decision)
	if err != nil {
		return nil, err
	}
	return gin.H{"outcome": outcome, "draft": current}, nil
}

// Discard handles draft.discard
func (d *DraftAPI) Discard(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Discard(ctx.Request.Context()); err != nil {
		return nil, err
	}
	return stateOf(c), nil
}

// Guard handles draft.guard
func (d *DraftAPI) Guard(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{"needs_guard": c.NeedsLeaveGuard()}, nil
}

// Publish handles draft.publish: the session's current draft becomes a post
func (d *DraftAPI) Publish(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	c, err := d.controller(ctx)
	if err != nil {
		return nil, err
	}
	if c.State() == draft.StateAwaiting {
		return nil, draft.ErrDecisionPending
	}

	current := c.Current()
	if err := draft.Validate(current); err != nil {
		return nil, err
	}

	reqCtx := ctx.Request.Context()
	post := &models.Post{
		AuthorID:    user,
		Title:       current.Title,
		Content:     current.Content,
		Category:    current.Category,
		Hashtags:    current.Hashtags,
		CoverImages: current.CoverImages,
	}
	if err := d.posts.Create(reqCtx, post); err != nil {
		return nil, err
	}

	if err := c.Published(reqCtx); err != nil {
		// The post exists; a stale slot only costs an extra prompt
		d.logger.Warn("Failed to clear draft after publish", zap.String("post_id", post.ID), zap.Error(err))
	}
	if d.pages != nil {
		if err := d.pages.Bump(reqCtx); err != nil {
			d.logger.Warn("Failed to retire cached pages", zap.Error(err))
		}
	}
	d.cache.InvalidateAll()

	d.logger.Info("Published draft", zap.String("post_id", post.ID), zap.String("author_id", user))
	return gin.H{"item_id": post.ID}, nil
}
