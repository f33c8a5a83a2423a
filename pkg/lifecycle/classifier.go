// Package lifecycle classifies credentials by freshness.
//
// Status is always derived from the stored expiry timestamp and a
// caller-supplied clock; it is never persisted, so it can be
// re-derived at any time and never drifts from the timestamps.
package lifecycle

import "time"

// Status is the freshness tier of a credential.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
)

// ExpiringSoonWindow is the lead time before expiry at which a
// credential leaves the active tier. The tighter 7-day window some
// surfaces highlight is a presentation concern; callers bucket further
// using DaysUntil.
const ExpiringSoonWindow = 30 * 24 * time.Hour

// Classify maps an expiry timestamp and the current time to a status
// tier. Expired wins at the boundary: now == expiresAt is expired.
func Classify(expiresAt, now time.Time) Status {
	if !now.Before(expiresAt) {
		return StatusExpired
	}
	if expiresAt.Sub(now) <= ExpiringSoonWindow {
		return StatusExpiringSoon
	}
	return StatusActive
}

// DaysUntil returns whole days remaining until expiry, truncated
// toward zero. Negative once expired.
func DaysUntil(expiresAt, now time.Time) int {
	return int(expiresAt.Sub(now).Hours() / 24)
}
