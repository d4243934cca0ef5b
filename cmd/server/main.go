package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/api"
	"github.com/mangohabit/feedcore/internal/cache"
	"github.com/mangohabit/feedcore/internal/db"
	"github.com/mangohabit/feedcore/internal/draft"
	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/like"
	"github.com/mangohabit/feedcore/pkg/config"
	"github.com/mangohabit/feedcore/pkg/logging"
	"github.com/mangohabit/feedcore/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting mango feed server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Storage
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	if err := database.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisCache.Close()

	posts := db.NewPostRepository(db.NewRepository(database.DB))
	pages := cache.NewPageCache(posts, redisCache)

	// Feed core
	feedCache := feed.NewCache(feed.NewSource(pages, cfg.Feed.PageSize), feed.CacheOptions{
		StaleAfter: cfg.Feed.StaleAfter,
		StaleAfterBySort: map[feed.Sort]time.Duration{
			feed.SortPopular: cfg.Feed.PopularStaleAfter,
		},
	})
	prefetcher := feed.NewPrefetcher(feedCache, feed.PrefetchOptions{
		StaleAfter: cfg.Feed.PrefetchStaleAfter,
		Timeout:    cfg.Feed.PrefetchTimeout,
	})
	likes := like.NewEngine(feedCache, pages, like.Options{WriteTimeout: cfg.Like.WriteTimeout})
	likes.OnFailure(func(f *like.WriteFailure) {
		logger.Info("Like rolled back", zap.String("item_id", f.ItemID), zap.String("user_id", f.UserID))
	})

	var newSlot draft.SlotFactory
	if redisCache != nil {
		newSlot = func(sessionID string) draft.Slot {
			return cache.NewDraftSlot(redisCache, sessionID, cfg.Draft.TTL)
		}
	}
	drafts := draft.NewRegistry(newSlot, draft.Options{
		Debounce:    cfg.Draft.Debounce,
		PromptDelay: cfg.Draft.PromptDelay,
	})

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	router := api.NewRouter(api.Services{
		Cache:      feedCache,
		Prefetcher: prefetcher,
		Likes:      likes,
		Drafts:     drafts,
		Posts:      posts,
		Pages:      pages,
		DB:         database,
		Redis:      redisCache,
	})
	router.SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let background writes land before the store goes away
	if err := drafts.FlushAll(ctx); err != nil {
		logger.Warn("Failed to flush drafts", zap.Error(err))
	}
	likes.Wait()
	prefetcher.Wait()

	logger.Info("Server exited")
}
