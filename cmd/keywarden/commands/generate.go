package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/internal/config"
	"github.com/systmms/keywarden/pkg/rotation"
)

func NewGenerateCommand(cfg *config.Config) *cobra.Command {
	var (
		purpose       string
		role          string
		requestorName string
		requestorMail string
		justification string
		keySize       int
		validityDays  int
		outPath       string
	)

	cmd := &cobra.Command{
		Use:   "generate <username>",
		Short: "Create a service account credential",
		Long: `Generate an RSA key pair for a new service account, record it locally,
and install the public key on the warehouse.

The private key is written to a local file exactly once. keywarden keeps
only the public key and metadata; a lost private key means rotating.

Examples:
  keywarden generate svc_tableau --role REPORTING_RO --purpose "Tableau dashboards"
  keywarden generate svc_airflow --validity-days 180 --key-size 4096 --out /secure/svc_airflow.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]

			coordinator, _, err := buildCoordinator(cfg)
			if err != nil {
				return err
			}
			applyDefaults(cfg, &keySize, &validityDays)

			issued, err := coordinator.Generate(cmd.Context(), rotation.GenerateRequest{
				Username:              username,
				Purpose:               purpose,
				Role:                  role,
				RequestorName:         requestorName,
				RequestorEmail:        requestorMail,
				BusinessJustification: justification,
				KeySize:               keySize,
				ValidityDays:          validityDays,
			})
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = username + "_private_key.pem"
			}
			if err := writePrivateKey(issued, outPath); err != nil {
				return err
			}

			reportIssued(cfg, issued, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&purpose, "purpose", "", "What the account is for")
	cmd.Flags().StringVar(&role, "role", "", "Warehouse role to grant")
	cmd.Flags().StringVar(&requestorName, "requestor-name", "", "Requesting person")
	cmd.Flags().StringVar(&requestorMail, "requestor-email", "", "Requesting person's email")
	cmd.Flags().StringVar(&justification, "justification", "", "Business justification")
	cmd.Flags().IntVar(&keySize, "key-size", 0, "RSA key size (2048 or 4096)")
	cmd.Flags().IntVar(&validityDays, "validity-days", 0, "Credential validity in days (30-365)")
	cmd.Flags().StringVar(&outPath, "out", "", "Private key output path (default <username>_private_key.pem)")

	return cmd
}
