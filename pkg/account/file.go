package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/pkg/lifecycle"
)

// FileRegistry implements Registry using one JSON file per account under
// dataDir/accounts/. Writes go through a write-then-rename so a crash
// mid-write never leaves a truncated record behind.
type FileRegistry struct {
	dataDir string
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewFileRegistry creates a file-backed registry rooted at dataDir.
func NewFileRegistry(dataDir string, logger *logging.Logger) (*FileRegistry, error) {
	accountsDir := filepath.Join(dataDir, "accounts")
	if err := os.MkdirAll(accountsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create accounts directory: %w", err)
	}
	return &FileRegistry{
		dataDir: dataDir,
		logger:  logger,
	}, nil
}

func (f *FileRegistry) recordPath(username string) string {
	return filepath.Join(f.dataDir, "accounts", sanitizeFileName(username)+".json")
}

func (f *FileRegistry) Create(record *CredentialRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.recordPath(record.Username)
	if _, err := os.Stat(path); err == nil {
		return kwerrors.New(kwerrors.KindDuplicateUsername, record.Username, "already registered")
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check for existing record: %w", err)
	}
	if err := f.writeRecord(path, record); err != nil {
		return err
	}
	f.logger.Debug("Stored credential record for %s at %s", record.Username, path)
	return nil
}

func (f *FileRegistry) Get(username string) (*CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readRecord(username)
}

func (f *FileRegistry) Update(username string, mutate func(*CredentialRecord) error) (*CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.readRecord(username)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	if err := f.writeRecord(f.recordPath(username), record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (f *FileRegistry) ListSummaries(now time.Time) []Summary {
	f.mu.Lock()
	defer f.mu.Unlock()

	var summaries []Summary
	for _, record := range f.readAll() {
		summaries = append(summaries, record.Summarize(now))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Username < summaries[j].Username
	})
	return summaries
}

func (f *FileRegistry) Aggregate(now time.Time) Aggregate {
	f.mu.Lock()
	defer f.mu.Unlock()

	var agg Aggregate
	for _, record := range f.readAll() {
		agg.Total++
		switch record.Status(now) {
		case lifecycle.StatusActive:
			agg.Active++
		case lifecycle.StatusExpiringSoon:
			agg.ExpiringSoon++
		case lifecycle.StatusExpired:
			agg.Expired++
		}
		if record.ProvisionedRemotely {
			agg.Provisioned++
		}
	}
	return agg
}

func (f *FileRegistry) readRecord(username string) (*CredentialRecord, error) {
	data, err := os.ReadFile(f.recordPath(username))
	if os.IsNotExist(err) {
		return nil, kwerrors.New(kwerrors.KindNotFound, username, "no such service account")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential record: %w", err)
	}
	var record CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse credential record for %s: %w", username, err)
	}
	return &record, nil
}

func (f *FileRegistry) readAll() []*CredentialRecord {
	accountsDir := filepath.Join(f.dataDir, "accounts")
	entries, err := os.ReadDir(accountsDir)
	if err != nil {
		return nil
	}

	var records []*CredentialRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(accountsDir, entry.Name()))
		if err != nil {
			f.logger.Warn("Skipping unreadable record %s: %v", entry.Name(), err)
			continue
		}
		var record CredentialRecord
		if err := json.Unmarshal(data, &record); err != nil {
			f.logger.Warn("Skipping corrupt record %s: %v", entry.Name(), err)
			continue
		}
		records = append(records, &record)
	}
	return records
}

func (f *FileRegistry) writeRecord(path string, record *CredentialRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize credential record: %w", err)
	}
	return nil
}

func sanitizeFileName(name string) string {
	// Replace problematic characters for file names
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(name)
}
