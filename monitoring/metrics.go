package monitoring

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kite_feed_memory_bytes",
		Help: "Current memory usage in bytes",
	})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kite_feed_goroutines",
		Help: "Current number of goroutines",
	})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clickhouse_query_duration_seconds",
		Help:    "Time taken for ClickHouse queries",
		Buckets: prometheus.LinearBuckets(0.01, 0.05, 10),
	}, []string{"query_type"})

	BatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kite_feed_batch_size",
		Help: "Current size of the tick batch buffer",
	})
)

// StartMetricsCollection samples runtime gauges every five seconds.
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			collectSystemMetrics()
		}
	}()
}

func collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}
