package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kite_feed_ticks_total",
		Help: "Total number of ticks decoded from the feed",
	})

	ticksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kite_feed_ticks_stored_total",
		Help: "Total number of ticks written to storage",
	})

	errorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kite_feed_errors_total",
		Help: "Total number of errors by source",
	}, []string{"source"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kite_feed_reconnects_total",
		Help: "Total number of ticker reconnect attempts",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kite_feed_events_dropped_total",
		Help: "Events shed because a consumer lagged",
	})

	insertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kite_feed_insert_seconds",
		Help:    "Time spent writing tick batches to ClickHouse",
		Buckets: prometheus.LinearBuckets(0.005, 0.01, 10),
	})

	// Internal counters backing the /health snapshot.
	processedTicks uint64
	errorsSeen     uint64
	lastProcessed  atomic.Int64
	startTime      = time.Now()
)

func IncrementDecoded() {
	atomic.AddUint64(&processedTicks, 1)
	ticksDecoded.Inc()
	lastProcessed.Store(time.Now().Unix())
}

func IncrementStored(n int) {
	ticksStored.Add(float64(n))
}

func IncrementErrors(source string) {
	atomic.AddUint64(&errorsSeen, 1)
	errorCount.WithLabelValues(source).Inc()
}

func IncrementReconnects() {
	reconnects.Inc()
}

func AddDroppedEvents(n uint64) {
	eventsDropped.Add(float64(n))
}

func RecordInsertDuration(d time.Duration) {
	insertDuration.Observe(d.Seconds())
}

// GetStats returns processed count, error count, last-processed time and
// uptime for the health endpoint.
func GetStats() (uint64, uint64, time.Time, time.Duration) {
	return atomic.LoadUint64(&processedTicks),
		atomic.LoadUint64(&errorsSeen),
		time.Unix(lastProcessed.Load(), 0),
		time.Since(startTime)
}
