package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the counters the feed core reports.
type Instruments struct {
	PageLoads        metric.Int64Counter
	PageLoadFailures metric.Int64Counter
	PrefetchSkipped  metric.Int64Counter
	LikeWrites       metric.Int64Counter
	LikeRollbacks    metric.Int64Counter
	DraftWrites      metric.Int64Counter
}

var (
	instruments *Instruments
	once        sync.Once
)

// Metrics returns the process-wide instruments. They are created against the
// global meter provider, which forwards to whatever provider Init installs.
func Metrics() *Instruments {
	once.Do(func() {
		meter := otel.Meter(instrumentationName)
		instruments = &Instruments{
			PageLoads:        counter(meter, "feed.page_loads", "Channel pages loaded"),
			PageLoadFailures: counter(meter, "feed.page_load_failures", "Channel page loads that failed"),
			PrefetchSkipped:  counter(meter, "feed.prefetch_skipped", "Prefetch signals ignored because data was fresh"),
			LikeWrites:       counter(meter, "like.writes", "Like writes issued to the store"),
			LikeRollbacks:    counter(meter, "like.rollbacks", "Optimistic likes rolled back"),
			DraftWrites:      counter(meter, "draft.writes", "Draft slot writes"),
		}
	})
	return instruments
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
	}
	return c
}

// Add increments c by one with the given attributes. A nil counter is ignored.
func Add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
