package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/cmd/keywarden/commands"
	"github.com/systmms/keywarden/internal/config"
	"github.com/systmms/keywarden/internal/health"
	"github.com/systmms/keywarden/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe any remaining key enclaves before exit.
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.Purge()
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "keywarden",
		Short: "Warehouse service account credential lifecycle",
		Long: `keywarden issues, rotates, and tracks RSA key-pair credentials for
warehouse service accounts. Private keys are delivered exactly once;
only public keys and metadata are kept.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger
			cfg.NonInteractive = nonInteractive

			health.InitMetrics()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "keywarden.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Non-interactive mode")

	rootCmd.AddCommand(
		commands.NewInitCommand(cfg),
		commands.NewGenerateCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewAccountsCommand(cfg),
		commands.NewBulkCommand(cfg),
		commands.NewLoginCommand(cfg),
	)

	return rootCmd.Execute()
}
