package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/internal/config"
	kwerrors "github.com/systmms/keywarden/internal/errors"
)

const starterConfig = `version: 0

# Warehouse the public keys are provisioned to.
warehouse:
  type: snowflake           # snowflake, postgres, or mysql
  account: your-account     # Snowflake account identifier
  user: KEYWARDEN           # operator user running the DDL
  role: SECURITYADMIN
  database: ADMIN
  timeout_ms: 30000

# Where the local account registry lives (default ~/.keywarden).
# data_dir: /var/lib/keywarden

defaults:
  key_size: 2048
  validity_days: 90

# Optional cloud delivery for issued private keys; without these the
# bulk import writes a local ZIP.
# delivery:
#   aws_secrets_manager:
#     region: eu-west-1
#   gcp_secret_manager:
#     project_id: my-project
#   azure_key_vault:
#     vault_url: https://my-vault.vault.azure.net/
`

func NewInitCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter keywarden.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfg.Path); err == nil {
				return kwerrors.UserError{
					Message:    fmt.Sprintf("%s already exists", cfg.Path),
					Suggestion: "Edit the existing file, or pass --config to write elsewhere",
				}
			}

			if err := os.WriteFile(cfg.Path, []byte(starterConfig), 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", cfg.Path, err)
			}

			cfg.Logger.Info("Created %s", cfg.Path)
			cfg.Logger.Info("Edit the warehouse section, then run 'keywarden login' to store the password")
			return nil
		},
	}
}
