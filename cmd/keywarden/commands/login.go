package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/internal/config"
	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/keychain"
	"github.com/systmms/keywarden/internal/logging"
	"golang.org/x/term"
)

func NewLoginCommand(cfg *config.Config) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the warehouse password in the OS keychain",
		Long: `Store the warehouse operator password in the operating system's
credential store. keywarden.yaml never carries passwords; provisioning
reads them from the keychain at runtime.

Examples:
  keywarden login          # Prompt for the password and store it
  keywarden login --clear  # Remove the stored password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			user := cfg.Definition.Warehouse.User
			if user == "" {
				return kwerrors.ConfigError{
					Field:      "warehouse.user",
					Message:    "no warehouse user configured",
					Suggestion: "Set warehouse.user in keywarden.yaml",
				}
			}

			if clear {
				if err := keychain.Delete(user); err != nil {
					return err
				}
				cfg.Logger.Info("Removed stored password for %s", user)
				return nil
			}

			password, err := readPassword(cfg, user)
			if err != nil {
				return err
			}
			cfg.Logger.Debug("Storing password for %s: %v", user, logging.Secret(password))
			if err := keychain.Set(user, password); err != nil {
				return kwerrors.UserError{
					Message:    "Failed to store the password in the OS keychain",
					Details:    err.Error(),
					Suggestion: "Check that a keychain service (Keychain, libsecret, Credential Manager) is available",
					Err:        err,
				}
			}
			cfg.Logger.Info("Stored password for %s", user)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Remove the stored password")
	return cmd
}

func readPassword(cfg *config.Config, user string) (string, error) {
	if cfg.NonInteractive {
		// Piped input for CI use.
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return "", fmt.Errorf("no password on stdin")
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	fmt.Printf("Password for %s: ", user)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	return password, nil
}
