package middleware

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"kite_clickhouse/utils"
)

var (
	breaker *gobreaker.CircuitBreaker
	once    sync.Once
)

func initBreaker() {
	once.Do(func() {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "clickhouse-breaker",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				utils.Logger.Infow("Circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		})
	})
}

// WithCircuitBreaker runs fn behind the storage circuit breaker. When the
// breaker is open the write fails fast instead of piling up on a dead
// database.
func WithCircuitBreaker(fn func() error) error {
	initBreaker()
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Recover wraps a goroutine body so a panic is logged with its stack
// instead of taking the process down.
func Recover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			utils.Logger.Errorw("Panic recovered",
				"goroutine", name,
				"error", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
