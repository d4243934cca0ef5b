package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/cache"
	"github.com/mangohabit/feedcore/internal/draft"
	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/like"
	"github.com/mangohabit/feedcore/pkg/logging"
)

// HealthChecker reports the health of a backing service
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services are the components the API exposes
type Services struct {
	Cache      *feed.Cache
	Prefetcher *feed.Prefetcher
	Likes      *like.Engine
	Drafts     *draft.Registry
	Posts      PostStore
	Pages      PageRetirer   // optional
	DB         HealthChecker // optional
	Redis      HealthChecker // optional
}

// Router sets up API routes
type Router struct {
	handler  *JSONRPCHandler
	services Services
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(services Services) *Router {
	handler := NewJSONRPCHandler()
	router := &Router{
		handler:  handler,
		services: services,
		logger:   logging.GetLogger().With(zap.String("component", "api-router")),
	}

	// Register all API methods
	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.Use(SessionMiddleware(), requestLogger())

	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// Metrics from the otel Prometheus exporter
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	s := r.services

	// Feed API
	feeds := NewFeedAPI(s.Cache, s.Prefetcher)
	r.handler.RegisterMethod("feed.get_channel", feeds.GetChannel)
	r.handler.RegisterMethod("feed.load_next_page", feeds.LoadNextPage)
	r.handler.RegisterMethod("feed.invalidate", feeds.Invalidate)
	r.handler.RegisterMethod("feed.prefetch", feeds.Prefetch)

	// Post API
	posts := NewPostAPI(s.Cache, s.Likes, s.Posts)
	r.handler.RegisterMethod("post.toggle_like", posts.ToggleLike)
	r.handler.RegisterMethod("post.view", posts.View)
	r.handler.RegisterMethod("profile.activity_days", posts.ActivityDays)

	// Draft API
	drafts := NewDraftAPI(s.Drafts, s.Posts, s.Cache, s.Pages)
	r.handler.RegisterMethod("draft.save", drafts.Save)
	r.handler.RegisterMethod("draft.flush", drafts.Flush)
	r.handler.RegisterMethod("draft.begin", drafts.Begin)
	r.handler.RegisterMethod("draft.resolve", drafts.Resolve)
	r.handler.RegisterMethod("draft.discard", drafts.Discard)
	r.handler.RegisterMethod("draft.guard", drafts.Guard)
	r.handler.RegisterMethod("draft.publish", drafts.Publish)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, checker := range map[string]HealthChecker{"database": r.services.DB, "redis": r.services.Redis} {
		if checker == nil {
			continue
		}
		switch err := checker.Health(ctx); {
		case err == nil:
			checks[name] = "OK"
		case errors.Is(err, cache.ErrCacheDisabled):
			checks[name] = "disabled"
		default:
			r.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{
		"status":  http.StatusText(status),
		"service": "mango-feed",
		"checks":  checks,
		"methods": r.handler.Methods(),
	})
}
