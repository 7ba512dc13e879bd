package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

type HealthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"start_time"`
	MemoryUsage     uint64            `json:"memory_usage"`
	GoroutineCount  int               `json:"goroutine_count"`
	ComponentStatus map[string]string `json:"component_status"`
}

var (
	startTime = time.Now()

	checksMu     sync.RWMutex
	healthChecks = make(map[string]func() bool)
)

// RegisterHealthCheck adds a named component probe to the /health report.
func RegisterHealthCheck(name string, check func() bool) {
	checksMu.Lock()
	defer checksMu.Unlock()
	healthChecks[name] = check
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := HealthStatus{
		Status:          "ok",
		Uptime:          time.Since(startTime).String(),
		StartTime:       startTime,
		MemoryUsage:     m.Alloc,
		GoroutineCount:  runtime.NumGoroutine(),
		ComponentStatus: make(map[string]string),
	}

	checksMu.RLock()
	for name, check := range healthChecks {
		if check() {
			status.ComponentStatus[name] = "healthy"
		} else {
			status.ComponentStatus[name] = "unhealthy"
			status.Status = "degraded"
		}
	}
	checksMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
