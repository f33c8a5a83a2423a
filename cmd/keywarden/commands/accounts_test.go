package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/keywarden/pkg/account"
	"github.com/systmms/keywarden/pkg/lifecycle"
)

func TestCountUrgent(t *testing.T) {
	summaries := []account.Summary{
		{Username: "svc_a", Status: lifecycle.StatusExpiringSoon, DaysRemaining: 3},
		{Username: "svc_b", Status: lifecycle.StatusExpiringSoon, DaysRemaining: 6},
		{Username: "svc_c", Status: lifecycle.StatusExpiringSoon, DaysRemaining: 20},
		{Username: "svc_d", Status: lifecycle.StatusActive, DaysRemaining: 60},
		// Expired accounts are past urgency, not inside it.
		{Username: "svc_e", Status: lifecycle.StatusExpired, DaysRemaining: -2},
	}

	assert.Equal(t, 2, countUrgent(summaries))
}

func TestFilterByStatus(t *testing.T) {
	summaries := []account.Summary{
		{Username: "svc_a", Status: lifecycle.StatusActive},
		{Username: "svc_b", Status: lifecycle.StatusExpired},
		{Username: "svc_c", Status: lifecycle.StatusActive},
	}

	active := filterByStatus(summaries, lifecycle.StatusActive)
	assert.Len(t, active, 2)
	assert.Equal(t, "svc_a", active[0].Username)

	assert.Empty(t, filterByStatus(summaries, lifecycle.StatusExpiringSoon))
}

func TestSummaryNotes(t *testing.T) {
	tests := []struct {
		name     string
		summary  account.Summary
		expected string
	}{
		{
			name:     "grace_beats_unprovisioned",
			summary:  account.Summary{PreviousKeyInGrace: true, ProvisionedRemotely: false},
			expected: "previous key in grace",
		},
		{
			name:     "unprovisioned",
			summary:  account.Summary{ProvisionedRemotely: false},
			expected: "not provisioned",
		},
		{
			name:     "healthy",
			summary:  account.Summary{ProvisionedRemotely: true},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, summaryNotes(tt.summary))
		})
	}
}
