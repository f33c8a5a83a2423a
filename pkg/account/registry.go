package account

import (
	"sort"
	"sync"
	"time"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/pkg/lifecycle"
)

// Registry is the collection of credential records keyed by service
// account username.
//
// Update must be atomic with respect to a username: concurrent
// rotations of the same account serialize, so grace fields are never
// computed from a stale base. Records are never physically deleted by
// the core; removal is an external administrative action.
type Registry interface {
	// Create inserts a new record. Fails with duplicate_username if
	// the username is already present.
	Create(record *CredentialRecord) error

	// Get returns a copy of the record, or not_found.
	Get(username string) (*CredentialRecord, error)

	// Update runs mutate over the record under the registry lock and
	// persists the result, returning a copy. If mutate returns an
	// error nothing is written. Fails with not_found if absent.
	Update(username string, mutate func(*CredentialRecord) error) (*CredentialRecord, error)

	// ListSummaries returns the redacted view of every record, sorted
	// by username. No code path through here carries private keys.
	ListSummaries(now time.Time) []Summary

	// Aggregate recomputes the status roll-up from current records.
	Aggregate(now time.Time) Aggregate
}

// MemoryRegistry is the in-memory Registry. A single mutex guards the
// map and runs mutators under it, which gives the per-username
// atomicity Update requires; the registry is operator-scale (hundreds
// of accounts), so finer striping buys nothing.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]*CredentialRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]*CredentialRecord),
	}
}

func (m *MemoryRegistry) Create(record *CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.Username]; exists {
		return kwerrors.New(kwerrors.KindDuplicateUsername, record.Username, "already registered")
	}
	m.records[record.Username] = record.Clone()
	return nil
}

func (m *MemoryRegistry) Get(username string) (*CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.records[username]
	if !exists {
		return nil, kwerrors.New(kwerrors.KindNotFound, username, "no such service account")
	}
	return record.Clone(), nil
}

func (m *MemoryRegistry) Update(username string, mutate func(*CredentialRecord) error) (*CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.records[username]
	if !exists {
		return nil, kwerrors.New(kwerrors.KindNotFound, username, "no such service account")
	}

	// Mutate a copy so a failed mutator leaves no partial write
	// visible to later readers.
	updated := record.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	m.records[username] = updated
	return updated.Clone(), nil
}

func (m *MemoryRegistry) ListSummaries(now time.Time) []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := make([]Summary, 0, len(m.records))
	for _, record := range m.records {
		summaries = append(summaries, record.Summarize(now))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Username < summaries[j].Username
	})
	return summaries
}

func (m *MemoryRegistry) Aggregate(now time.Time) Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg Aggregate
	for _, record := range m.records {
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
