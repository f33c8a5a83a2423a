package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/keywarden/internal/config"
	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/pkg/bulkimport"
	"github.com/systmms/keywarden/pkg/deliver"
	"github.com/systmms/keywarden/pkg/rotation"
)

func NewBulkCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Create service accounts in batches",
	}

	cmd.AddCommand(newBulkTemplateCommand(cfg), newBulkImportCommand(cfg))
	return cmd
}

func newBulkTemplateCommand(cfg *config.Config) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the CSV import template",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outPath, err)
			}
			defer func() { _ = f.Close() }()

			if err := bulkimport.WriteTemplate(f); err != nil {
				return err
			}
			cfg.Logger.Info("Template written to %s", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "accounts_template.csv", "Template output path")
	return cmd
}

func newBulkImportCommand(cfg *config.Config) *cobra.Command {
	var (
		zipPath string
		sink    string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create accounts from a CSV or JSON batch",
		Long: `Create service accounts from a batch file and collect the private keys
into a ZIP archive (one PEM per account plus an account_summary.csv
manifest), or push them straight to a cloud secret store.

The batch format follows the file extension: .csv uses the template
columns, .json the accounts schema.

Examples:
  keywarden bulk import accounts.csv
  keywarden bulk import accounts.json --deliver aws
  keywarden bulk import accounts.csv --zip /secure/batch_keys.zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requests, err := readBatch(args[0])
			if err != nil {
				return err
			}

			coordinator, _, err := buildCoordinator(cfg)
			if err != nil {
				return err
			}
			for i := range requests {
				applyDefaults(cfg, &requests[i].KeySize, &requests[i].ValidityDays)
			}

			ctx := cmd.Context()
			results := coordinator.BulkGenerate(ctx, requests)
			return deliverResults(ctx, cfg, results, zipPath, sink)
		},
	}

	cmd.Flags().StringVar(&zipPath, "zip", "issued_keys.zip", "ZIP archive path for the issued keys")
	cmd.Flags().StringVar(&sink, "deliver", "", "Deliver keys to a cloud store instead of the ZIP (aws, gcp, azure)")
	return cmd
}

func readBatch(path string) ([]rotation.GenerateRequest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		return bulkimport.ParseCSV(f)

	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return bulkimport.ParseJSON(data)

	default:
		return nil, kwerrors.UserError{
			Message:    fmt.Sprintf("Unsupported batch format %q", filepath.Ext(path)),
			Suggestion: "Use a .csv file (see 'keywarden bulk template') or a .json batch",
		}
	}
}

func deliverResults(ctx context.Context, cfg *config.Config, results []rotation.BulkResult, zipPath, sinkName string) error {
	var cloudSink deliver.Sink
	if sinkName != "" {
		var err error
		cloudSink, err = buildSink(ctx, cfg, sinkName)
		if err != nil {
			return err
		}
	}

	var zw *deliver.ZipWriter
	var zf *os.File
	if cloudSink == nil {
		var err error
		zf, err = os.OpenFile(zipPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", zipPath, err)
		}
		defer func() { _ = zf.Close() }()
		zw = deliver.NewZipWriter(zf)
	}

	issued, failed, partial := 0, 0, 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			cfg.Logger.Error("%s: %v", res.Username, res.Err)
			continue
		}

		// One lost key must not abandon the rest of the batch; the
		// archive still has to finalize with every key that made it.
		// The failed account exists locally, so rotating it issues a
		// replacement.
		if err := handOff(ctx, cfg, res, zw, cloudSink); err != nil {
			failed++
			cfg.Logger.Error("%s: issued but not delivered, rotate to reissue: %v", res.Username, err)
			continue
		}

		issued++
		if res.Issued.ProvisioningErr != nil {
			partial++
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
		if issued > 0 {
			cfg.Logger.Info("%d private key(s) written to %s; this is the only copy", issued, zipPath)
		}
	}

	cfg.Logger.Info("Batch complete: %d issued, %d failed", issued, failed)
	if partial > 0 {
		cfg.Logger.Warn("%d account(s) recorded locally but not provisioned; fix connectivity and rotate them", partial)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(results))
	}
	return nil
}

func handOff(ctx context.Context, cfg *config.Config, res rotation.BulkResult, zw *deliver.ZipWriter, sink deliver.Sink) error {
	defer res.Issued.Key.Destroy()

	locked, err := res.Issued.Key.Open()
	if err != nil {
		return fmt.Errorf("failed to open issued key for %s: %w", res.Username, err)
	}
	defer locked.Destroy()

	if sink != nil {
		if err := sink.Store(ctx, res.Username, locked.Bytes()); err != nil {
			return fmt.Errorf("failed to deliver key for %s to %s: %w", res.Username, sink.Name(), err)
		}
		cfg.Logger.Info("Delivered key for %s to %s", res.Username, sink.Name())
		return nil
	}

	return zw.Add(res.Issued.Summary, locked.Bytes())
}

func buildSink(ctx context.Context, cfg *config.Config, name string) (deliver.Sink, error) {
	delivery := cfg.Definition.Delivery
	switch strings.ToLower(name) {
	case "aws":
		if delivery.AWS == nil {
			return nil, missingSinkConfig("aws", "delivery.aws_secrets_manager")
		}
		return deliver.NewAWSSecretsManagerSink(ctx, *delivery.AWS)
	case "gcp":
		if delivery.GCP == nil {
			return nil, missingSinkConfig("gcp", "delivery.gcp_secret_manager")
		}
		return deliver.NewGCPSecretManagerSink(ctx, *delivery.GCP)
	case "azure":
		if delivery.Azure == nil {
			return nil, missingSinkConfig("azure", "delivery.azure_key_vault")
		}
		return deliver.NewAzureKeyVaultSink(*delivery.Azure)
	default:
		return nil, kwerrors.UserError{
			Message:    fmt.Sprintf("Unknown delivery sink %q", name),
			Suggestion: "Use aws, gcp, or azure",
		}
	}
}

func missingSinkConfig(name, field string) error {
	return kwerrors.ConfigError{
		Field:      field,
		Message:    fmt.Sprintf("the %s sink is not configured", name),
		Suggestion: fmt.Sprintf("Add a %s section to keywarden.yaml", field),
	}
}
