package feed

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/pkg/logging"
	"github.com/mangohabit/feedcore/pkg/telemetry"
)

// Intent is a low-confidence signal that the user may soon want a channel.
type Intent string

const (
	// IntentHover: pointer over a link to the channel. Loads the first page
	// unless the channel already has fresh data.
	IntentHover Intent = "hover"
	// IntentViewportNear: the end of a loaded channel is close to the viewport.
	// Loads the next page unless the channel is exhausted.
	IntentViewportNear Intent = "viewport_near"
)

// PrefetchOptions configures a Prefetcher.
type PrefetchOptions struct {
	// StaleAfter narrows the age below which hover prefetches are skipped. The
	// channel's own staleness threshold always applies; zero means use only that.
	StaleAfter time.Duration
	// Timeout bounds each background load.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Prefetcher turns intent signals into background page loads. Loads are fire
// and forget: they are never cancelled by the caller and their failures are
// logged, not recorded on the channel.
type Prefetcher struct {
	cache      *Cache
	staleAfter time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewPrefetcher creates a prefetcher over cache.
func NewPrefetcher(cache *Cache, opts PrefetchOptions) *Prefetcher {
	p := &Prefetcher{
		cache:      cache,
		staleAfter: opts.StaleAfter,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	if p.logger == nil {
		p.logger = logging.WithComponent("prefetch")
	}
	return p
}

// Signal handles one intent for key. It returns true if a background load was
// started; a started load may still turn out to be a no-op if another load for
// the channel got there first.
func (p *Prefetcher) Signal(ctx context.Context, key ChannelKey, intent Intent) bool {
	if err := key.Validate(); err != nil {
		p.logger.Debug("Ignoring prefetch for invalid channel", zap.String("channel", key.String()), zap.Error(err))
		return false
	}

	switch intent {
	case IntentHover:
		if p.cache.IsFresh(key, p.freshWindow(key)) {
			telemetry.Add(ctx, telemetry.Metrics().PrefetchSkipped,
				attribute.String("channel", key.String()), attribute.String("reason", "fresh"))
			return false
		}
	case IntentViewportNear:
		if view := p.cache.GetOrCreate(key); view.Exhausted {
			return false
		}
	default:
		p.logger.Debug("Unknown prefetch intent", zap.String("intent", string(intent)))
		return false
	}

	if p.cache.InFlight(key) {
		telemetry.Add(ctx, telemetry.Metrics().PrefetchSkipped,
			attribute.String("channel", key.String()), attribute.String("reason", "in_flight"))
		return false
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		started, err := p.cache.load(bg, key, false)
		if err != nil {
			p.logger.Warn("Prefetch failed",
				zap.String("channel", key.String()),
				zap.String("intent", string(intent)),
				zap.Error(err))
			return
		}
		if started {
			p.logger.Debug("Prefetched channel page",
				zap.String("channel", key.String()),
				zap.String("intent", string(intent)))
		}
	}()
	return true
}

// freshWindow is the cache's staleness threshold for key, shortened by the
// configured prefetch window. Data the next read would throw away as stale is
// never treated as fresh.
func (p *Prefetcher) freshWindow(key ChannelKey) time.Duration {
	window := p.cache.StaleAfter(key)
	if p.staleAfter > 0 && p.staleAfter < window {
		window = p.staleAfter
	}
	return window
}

// Wait blocks until every started prefetch has finished.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}
