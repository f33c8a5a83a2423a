package commands

import (
	"fmt"
	"os"

	"github.com/systmms/keywarden/internal/config"
	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/keychain"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/pkg/account"
	"github.com/systmms/keywarden/pkg/provision"
	"github.com/systmms/keywarden/pkg/rotation"
)

// urgentWindowDays is the tighter bucket the status view calls out
// within the expiring-soon tier.
const urgentWindowDays = 7

// buildCoordinator loads the config and wires the registry and
// provisioner behind a coordinator.
func buildCoordinator(cfg *config.Config) (*rotation.Coordinator, account.Registry, error) {
	if err := cfg.Load(); err != nil {
		return nil, nil, err
	}

	warehouse := cfg.Definition.Warehouse
	password, ok, err := keychain.Get(warehouse.User)
	if err != nil {
		cfg.Logger.Warn("Could not read warehouse password from keychain: %v", err)
	} else if !ok {
		cfg.Logger.Debug("No warehouse password stored; run 'keywarden login' to store one")
	}
	warehouse.Password = password

	registry, err := account.NewFileRegistry(cfg.DataDir(), cfg.Logger)
	if err != nil {
		return nil, nil, err
	}

	provisioner := provision.NewSQLProvisioner(warehouse, cfg.Logger)
	return rotation.NewCoordinator(registry, provisioner, cfg.Logger), registry, nil
}

// applyDefaults fills request fields from the config when unset.
func applyDefaults(cfg *config.Config, keySize, validityDays *int) {
	if *keySize == 0 {
		*keySize = cfg.DefaultKeySize()
	}
	if *validityDays == 0 {
		*validityDays = cfg.DefaultValidityDays()
	}
}

// writePrivateKey delivers the issued key to a local file, 0600, and
// destroys the in-memory copy.
func writePrivateKey(issued *rotation.Issued, path string) error {
	defer issued.Key.Destroy()

	locked, err := issued.Key.Open()
	if err != nil {
		return fmt.Errorf("failed to open issued key: %w", err)
	}
	defer locked.Destroy()

	if err := os.WriteFile(path, locked.Bytes(), 0600); err != nil {
		return kwerrors.UserError{
			Message:    fmt.Sprintf("Failed to write private key to %s", path),
			Details:    err.Error(),
			Suggestion: "Check the output path is writable, then rotate again to issue a fresh key",
			Err:        err,
		}
	}
	return nil
}

// reportIssued prints the one-time issuance outcome.
func reportIssued(cfg *config.Config, issued *rotation.Issued, keyPath string) {
	cfg.Logger.Info("Issued credential for %s (fingerprint %s)", issued.Summary.Username, issued.Fingerprint)
	cfg.Logger.Info("Private key written to %s; this is the only copy", keyPath)
	cfg.Logger.Info("Expires %s", issued.Summary.ExpiresAt.Format("2006-01-02"))

	if issued.Provisioned {
		cfg.Logger.Info("Public key installed on the warehouse")
	} else if issued.ProvisioningErr != nil {
		cfg.Logger.Warn("Warehouse provisioning failed: %s", logging.RedactPEM(issued.ProvisioningErr.Error()))
		cfg.Logger.Warn("The credential is recorded locally; fix connectivity and rotate to provision")
	}
}
