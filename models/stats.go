package models

import "time"

// TokenStats accumulates per-instrument counters for the periodic
// pipeline summary log.
type TokenStats struct {
	InstrumentToken uint32
	LastUpdate      time.Time
	TickCount       int64
	MinPrice        float64
	MaxPrice        float64
	LastPrice       float64
	TotalVolume     int64
}

// Observe folds one tick into the running stats.
func (s *TokenStats) Observe(price float64, volume uint32, at time.Time) {
	if s.TickCount == 0 || price < s.MinPrice {
		s.MinPrice = price
	}
	if price > s.MaxPrice {
		s.MaxPrice = price
	}
	s.LastPrice = price
	s.TotalVolume = int64(volume)
	s.TickCount++
	s.LastUpdate = at
}

type WorkerStats struct {
	WorkerID       int
	ProcessedCount int64
	ErrorCount     int64
	LastProcessed  time.Time
}
