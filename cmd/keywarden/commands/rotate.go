package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/internal/config"
	"github.com/systmms/keywarden/pkg/rotation"
)

func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		keySize      int
		validityDays int
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "rotate <username>",
		Short: "Rotate a service account credential",
		Long: `Replace an account's key pair with a fresh one. The prior public key
stays valid on the warehouse for 24 hours from the rotation, so clients
holding the old private key keep authenticating while they switch.

Examples:
  keywarden rotate svc_tableau
  keywarden rotate svc_airflow --validity-days 180 --out /secure/svc_airflow.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]

			coordinator, _, err := buildCoordinator(cfg)
			if err != nil {
				return err
			}
			applyDefaults(cfg, &keySize, &validityDays)

			issued, err := coordinator.Rotate(cmd.Context(), rotation.RotateRequest{
				Username:     username,
				KeySize:      keySize,
				ValidityDays: validityDays,
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
			if issued.Summary.PreviousKeyInGrace {
				cfg.Logger.Info("Previous key remains valid for 24 hours")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keySize, "key-size", 0, "RSA key size (2048 or 4096)")
	cmd.Flags().IntVar(&validityDays, "validity-days", 0, "Credential validity in days (30-365)")
	cmd.Flags().StringVar(&outPath, "out", "", "Private key output path (default <username>_private_key.pem)")

	return cmd
}
