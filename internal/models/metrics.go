package models

import "time"

// SystemMetrics is a lightweight snapshot of process counters for the health endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	TransitionsAccepted      uint64    `json:"transitionsAccepted"`
	TransitionsRejected      uint64    `json:"transitionsRejected"`
	ProbesTotal              uint64    `json:"probesTotal"`
	AverageProbeDurationMs   float64   `json:"averageProbeDurationMs"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
