package models

import "time"

// EntryMetadata captures request context recorded alongside a cache entry.
type EntryMetadata struct {
	TextLength   int    `json:"text_length"`
	Address      string `json:"address"`
	ClientString string `json:"client_string"`
	Country      string `json:"country"`
}

// CacheEntry is one cached analysis result. Entries are immutable after
// insertion and are removed only by expiry or oldest-first eviction.
type CacheEntry struct {
	ID          string             `json:"id"`
	CreatedAt   time.Time          `json:"created_at"`
	InputText   string             `json:"input_text"`
	TextHash    string             `json:"text_hash"`
	Response    PersonalityProfile `json:"response"`
	Fingerprint string             `json:"fingerprint"`
	Metadata    EntryMetadata      `json:"metadata"`
}

// CacheStatistics holds the aggregate lookup counters.
type CacheStatistics struct {
	TotalRequests     int64     `json:"total_requests"`
	CacheHits         int64     `json:"cache_hits"`
	CacheMisses       int64     `json:"cache_misses"`
	APICallsSaved     int64     `json:"api_calls_saved"`
	AverageResponseMs float64   `json:"average_response_time_ms"`
	LastUpdated       time.Time `json:"last_updated"`
}

// HitRate returns the cache hit rate as a percentage, 0 when no requests
// have been recorded.
func (s CacheStatistics) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalRequests) * 100
}

// StoreStats combines the aggregate counters with storage-level figures.
type StoreStats struct {
	CacheStatistics
	HitRatePct          float64 `json:"hit_rate_percentage"`
	Entries             int64   `json:"entries"`
	SizeBytes           int64   `json:"size_bytes"`
	SizeMB              float64 `json:"size_mb"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}
