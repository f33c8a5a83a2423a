package deliver

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/systmms/keywarden/pkg/account"
)

// ZipWriter builds the operator download: one PEM file per account
// plus an account_summary.csv manifest. The manifest carries only
// redacted summary fields, never key material.
type ZipWriter struct {
	zw        *zip.Writer
	summaries []account.Summary
	closed    bool
}

// NewZipWriter wraps w. The caller owns w and closes it after Close.
func NewZipWriter(w io.Writer) *ZipWriter {
	return &ZipWriter{zw: zip.NewWriter(w)}
}

// Add writes one account's private key as <username>_private_key.pem
// and queues its summary for the manifest.
func (z *ZipWriter) Add(summary account.Summary, privateKeyPEM []byte) error {
	if z.closed {
		return fmt.Errorf("archive already closed")
	}

	entry, err := z.zw.Create(summary.Username + "_private_key.pem")
	if err != nil {
		return fmt.Errorf("failed to create archive entry for %s: %w", summary.Username, err)
	}
	if _, err := entry.Write(privateKeyPEM); err != nil {
		return fmt.Errorf("failed to write key for %s: %w", summary.Username, err)
	}

	z.summaries = append(z.summaries, summary)
	return nil
}

// Close writes the manifest and finalizes the archive.
func (z *ZipWriter) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true

	entry, err := z.zw.Create("account_summary.csv")
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}

	writer := csv.NewWriter(entry)
	header := []string{"username", "purpose", "role", "requestor_name", "requestor_email", "created_at", "expires_at", "status"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	for _, s := range z.summaries {
		row := []string{
			s.Username,
			s.Purpose,
			s.Role,
			s.RequestorName,
			s.RequestorEmail,
			s.CreatedAt.Format(time.RFC3339),
			s.ExpiresAt.Format(time.RFC3339),
			string(s.Status),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write manifest row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush manifest: %w", err)
	}

	return z.zw.Close()
}

// EntryCount returns the number of key files added so far.
func (z *ZipWriter) EntryCount() int {
	return len(z.summaries)
}
