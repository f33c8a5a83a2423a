package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/internal/config"
	"github.com/systmms/keywarden/pkg/account"
	"github.com/systmms/keywarden/pkg/lifecycle"
)

func NewAccountsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List and summarize service accounts",
	}

	cmd.AddCommand(newAccountsListCommand(cfg), newAccountsStatusCommand(cfg))
	return cmd
}

func buildRegistry(cfg *config.Config) (account.Registry, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return account.NewFileRegistry(cfg.DataDir(), cfg.Logger)
}

func newAccountsListCommand(cfg *config.Config) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked accounts with status",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			summaries := registry.ListSummaries(time.Now())
			if statusFilter != "" {
				summaries = filterByStatus(summaries, lifecycle.Status(statusFilter))
			}
			if len(summaries) == 0 {
				fmt.Println("No accounts tracked")
				return nil
			}

			fmt.Printf("%-24s %-14s %-16s %-12s %6s  %s\n",
				"USERNAME", "STATUS", "ROLE", "EXPIRES", "DAYS", "NOTES")
			for _, s := range summaries {
				fmt.Printf("%-24s %-14s %-16s %-12s %6d  %s\n",
					s.Username,
					s.Status,
					s.Role,
					s.ExpiresAt.Format("2006-01-02"),
					s.DaysRemaining,
					summaryNotes(s))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show accounts with this status (active, expiring_soon, expired)")
	return cmd
}

func newAccountsStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the registry roll-up",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			now := time.Now()
			agg := registry.Aggregate(now)
			urgent := countUrgent(registry.ListSummaries(now))

			fmt.Printf("Accounts:        %d\n", agg.Total)
			fmt.Printf("  Active:        %d\n", agg.Active)
			fmt.Printf("  Expiring soon: %d (%d within %d days)\n", agg.ExpiringSoon, urgent, urgentWindowDays)
			fmt.Printf("  Expired:       %d\n", agg.Expired)
			fmt.Printf("Provisioned:     %d of %d\n", agg.Provisioned, agg.Total)

			if agg.Expired > 0 {
				cfg.Logger.Warn("%d account(s) expired; rotate them to restore access", agg.Expired)
			}
			return nil
		},
	}
}

func filterByStatus(summaries []account.Summary, status lifecycle.Status) []account.Summary {
	var filtered []account.Summary
	for _, s := range summaries {
		if s.Status == status {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// countUrgent counts expiring-soon accounts inside the tighter window
// the status view calls out.
func countUrgent(summaries []account.Summary) int {
	urgent := 0
	for _, s := range summaries {
		if s.Status == lifecycle.StatusExpiringSoon && s.DaysRemaining < urgentWindowDays {
			urgent++
		}
	}
	return urgent
}

func summaryNotes(s account.Summary) string {
	switch {
	case s.PreviousKeyInGrace:
		return "previous key in grace"
	case !s.ProvisionedRemotely:
		return "not provisioned"
	default:
		return ""
	}
}
