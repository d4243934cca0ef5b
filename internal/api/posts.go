package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/like"
	"github.com/mangohabit/feedcore/internal/models"
)

// PostStore is the part of the post repository the API uses beyond the
// feed.Store boundary
type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	IncrementView(ctx context.Context, id string) (int64, error)
	ActivityDays(ctx context.Context, authorID string, from, to time.Time) ([]string, error)
}

// PostAPI serves per-post interactions
type PostAPI struct {
	cache *feed.Cache
	likes *like.Engine
	posts PostStore
}

// NewPostAPI creates a new post API
func NewPostAPI(cache *feed.Cache, likes *like.Engine, posts PostStore) *PostAPI {
	return &PostAPI{cache: cache, likes: likes, posts: posts}
}

type itemParams struct {
	ItemID string `json:"item_id"`
}

func (p itemParams) validate() error {
	if p.ItemID == "" {
		return invalidParams("missing required parameter: item_id")
	}
	return nil
}

// ToggleLike handles post.toggle_like. The returned item is the optimistic
// state; the write settles in the background.
func (p *PostAPI) ToggleLike(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	var req itemParams
	if err := bindParams(params, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	m, err := p.likes.ToggleLike(ctx.Request.Context(), user, req.ItemID)
	if err != nil {
		return nil, err
	}
	item, _ := p.cache.Item(req.ItemID)
	return gin.H{
		"item":   item,
		"kind":   m.Kind(),
		"status": m.Status(),
	}, nil
}

// View handles post.view
func (p *PostAPI) View(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var req itemParams
	if err := bindParams(params, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	views, err := p.posts.IncrementView(ctx.Request.Context(), req.ItemID)
	if err != nil {
		return nil, err
	}
	p.cache.PatchItem(req.ItemID, func(it feed.Item) feed.Item {
		it.ViewCount = views
		return it
	})
	return gin.H{"item_id": req.ItemID, "view_count": views}, nil
}

type activityParams struct {
	Author string `json:"author"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ActivityDays handles profile.activity_days. Dates are YYYY-MM-DD and the
// range includes both ends. The author defaults to the caller.
func (p *PostAPI) ActivityDays(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var req activityParams
	if err := bindParams(params, &req); err != nil {
		return nil, err
	}
	author := req.Author
	if author == "" {
		var err error
		if author, err = userID(ctx); err != nil {
			return nil, err
		}
	}

	from, err := time.Parse(time.DateOnly, req.From)
	if err != nil {
		return nil, invalidParams("invalid from date: %q", req.From)
	}
	to, err := time.Parse(time.DateOnly, req.To)
	if err != nil {
		return nil, invalidParams("invalid to date: %q", req.To)
	}
	if to.Before(from) {
		return nil, invalidParams("to is before from")
	}

	days, err := p.posts.ActivityDays(ctx.Request.Context(), author, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return gin.H{"author": author, "days": days}, nil
}
