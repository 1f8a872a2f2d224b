// Package metrics provides constants used across metric definitions.
package metrics

// Histogram bucket parameters.
const (
	// BucketStart1ms is the first bucket for in-process operations.
	BucketStart1ms = 0.001
	// BucketStart10ms is the first bucket for HTTP round trips.
	BucketStart10ms = 0.01
	// BucketFactor2 doubles each bucket.
	BucketFactor2 = 2
	// BucketCount12 covers 10ms to ~20s when starting at 10ms.
	BucketCount12 = 12
	// BucketCount10 covers 1ms to ~0.5s when starting at 1ms.
	BucketCount10 = 10
)

// Label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	ResultCacheHit = "cache_hit"
	ResultNetwork  = "network"
	ResultShared   = "shared"
	ResultError    = "error"
	ResultStale    = "stale_discarded"
)
