package commands

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keywarden/internal/config"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/internal/secure"
	"github.com/systmms/keywarden/pkg/account"
	"github.com/systmms/keywarden/pkg/rotation"
)

func TestReadBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(dir, "batch.csv")
		csv := "username,purpose,role,requestor_name,requestor_email,business_justification,expiry_days\n" +
			"svc_etl,ETL,ANALYST,Jane,jane@example.com,loads,90\n"
		require.NoError(t, os.WriteFile(path, []byte(csv), 0600))

		requests, err := readBatch(path)
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, "svc_etl", requests[0].Username)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "batch.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"accounts": [{"username": "svc_bi"}]}`), 0600))

		requests, err := readBatch(path)
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, "svc_bi", requests[0].Username)
	})

	t.Run("unsupported_extension", func(t *testing.T) {
		path := filepath.Join(dir, "batch.xlsx")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

		_, err := readBatch(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unsupported batch format")
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := readBatch(filepath.Join(dir, "absent.csv"))
		assert.Error(t, err)
	})
}

func TestDeliverResultsFinalizesArchivePastFailures(t *testing.T) {
	t.Parallel()

	zipPath := filepath.Join(t.TempDir(), "issued_keys.zip")
	cfg := &config.Config{Logger: logging.New(false, true)}

	// A destroyed key makes the hand-off for this account fail.
	lost := &rotation.Issued{
		Summary: account.Summary{Username: "svc_lost"},
		Key:     secure.NewKeyBuffer([]byte("PEM_LOST")),
	}
	lost.Key.Destroy()

	results := []rotation.BulkResult{
		{Username: "svc_lost", Issued: lost},
		{Username: "svc_kept", Issued: &rotation.Issued{
			Summary: account.Summary{Username: "svc_kept"},
			Key:     secure.NewKeyBuffer([]byte("PEM_KEPT")),
		}},
	}

	err := deliverResults(context.Background(), cfg, results, zipPath, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")

	// The archive must still be finalized, carrying the delivered key
	// and the manifest.
	data, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "svc_kept_private_key.pem")
	assert.Contains(t, names, "account_summary.csv")
	assert.NotContains(t, names, "svc_lost_private_key.pem")
}
