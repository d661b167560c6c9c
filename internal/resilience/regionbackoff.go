package resilience

import "time"

// Region-level retry scheduling uses the same exponential family as provider
// retries but at minute scale: a region that fails enrichment is postponed
// rather than hammered within the batch.
const (
	// RegionBackoffBase is the delay after the first failed attempt.
	RegionBackoffBase = 5 * time.Minute

	// RegionBackoffMax caps the postponement.
	RegionBackoffMax = 6 * time.Hour

	// DefaultMaxRegionAttempts is the attempt ceiling; a region that fails
	// this many times is skipped until manually reset.
	DefaultMaxRegionAttempts = 5
)

// RegionBackoff returns how long a region waits before its next enrichment
// attempt. attempts is the post-increment failure count (1 for the first
// failure).
func RegionBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return Backoff(attempts-1, RegionBackoffBase, RegionBackoffMax, 2.0)
}

// NextRetryAt computes the absolute retry time for a region, or nil when the
// attempt ceiling has been reached (permanent skip until manual reset).
func NextRetryAt(now time.Time, attempts, maxAttempts int) *time.Time {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRegionAttempts
	}
	if attempts >= maxAttempts {
		return nil
	}
	t := now.Add(RegionBackoff(attempts))
	return &t
}
