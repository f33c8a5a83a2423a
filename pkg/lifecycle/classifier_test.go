package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		expected  Status
	}{
		{
			name:      "far_future_is_active",
			expiresAt: now.Add(90 * 24 * time.Hour),
			expected:  StatusActive,
		},
		{
			name:      "just_outside_window_is_active",
			expiresAt: now.Add(30*24*time.Hour + time.Second),
			expected:  StatusActive,
		},
		{
			name:      "exactly_thirty_days_is_expiring_soon",
			expiresAt: now.Add(30 * 24 * time.Hour),
			expected:  StatusExpiringSoon,
		},
		{
			name:      "one_day_left_is_expiring_soon",
			expiresAt: now.Add(24 * time.Hour),
			expected:  StatusExpiringSoon,
		},
		{
			name:      "exactly_at_expiry_is_expired",
			expiresAt: now,
			expected:  StatusExpired,
		},
		{
			name:      "past_expiry_is_expired",
			expiresAt: now.Add(-time.Hour),
			expected:  StatusExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.expiresAt, now))
		})
	}
}

func TestClassifyMonotonic(t *testing.T) {
	// With a fixed expiry, advancing the clock only ever moves the
	// status forward: active, expiring_soon, expired.
	expiresAt := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	rank := map[Status]int{
		StatusActive:       0,
		StatusExpiringSoon: 1,
		StatusExpired:      2,
	}

	previous := -1
	for now := expiresAt.Add(-60 * 24 * time.Hour); now.Before(expiresAt.Add(10 * 24 * time.Hour)); now = now.Add(12 * time.Hour) {
		current := rank[Classify(expiresAt, now)]
		assert.GreaterOrEqual(t, current, previous, "status regressed at %s", now)
		previous = current
	}
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		expected  int
	}{
		{"ninety_days_out", now.AddDate(0, 0, 90), 90},
		{"partial_day_truncates", now.Add(36 * time.Hour), 1},
		{"same_instant", now, 0},
		{"expired_goes_negative", now.AddDate(0, 0, -3), -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DaysUntil(tt.expiresAt, now))
		})
	}
}
