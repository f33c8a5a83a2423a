// Package rotation coordinates credential issuance: key generation,
// registry bookkeeping, and remote provisioning, with the overlap
// window that keeps rotations non-disruptive.
package rotation

import (
	"context"
	"sync"
	"time"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/health"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/internal/secure"
	"github.com/systmms/keywarden/pkg/account"
	"github.com/systmms/keywarden/pkg/keypair"
	"github.com/systmms/keywarden/pkg/lifecycle"
	"github.com/systmms/keywarden/pkg/provision"
)

const (
	// GracePeriod is how long the replaced key stays valid after a
	// rotation. Fixed relative to the rotation instant, not the old
	// key's expiry, so a rotation performed after expiry still gives
	// in-flight clients a full day to switch.
	GracePeriod = 24 * time.Hour

	// Validity bounds for new credentials, in whole days.
	MinValidityDays     = 30
	MaxValidityDays     = 365
	DefaultValidityDays = 90
)

// GenerateRequest describes a first-time issuance for a new service
// account.
type GenerateRequest struct {
	Username              string
	Purpose               string
	Role                  string
	RequestorName         string
	RequestorEmail        string
	BusinessJustification string

	// KeySize defaults to 2048; ValidityDays to 90.
	KeySize      int
	ValidityDays int
}

// RotateRequest describes a key rotation for an existing account.
type RotateRequest struct {
	Username string

	KeySize      int
	ValidityDays int
}

// AuditEntry records one step of an issuance for the trail returned
// with the result.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// Issued is the one-time result of a generate or rotate call. The
// private key lives only here, inside an encrypted enclave, and is
// never retrievable again: once the caller delivers it and calls
// Destroy, it is gone.
type Issued struct {
	Summary     account.Summary
	Fingerprint string

	// Key holds the private key PEM. Callers open it exactly as long
	// as needed to hand it off, then destroy it.
	Key *secure.KeyBuffer

	// Provisioned is false on partial success: the local record is
	// committed but the warehouse does not have the key yet.
	Provisioned     bool
	ProvisioningErr error

	AuditTrail []AuditEntry
}

// Coordinator serializes issuance per account and drives the
// provisioning collaborator. A per-username lock is held across the
// whole generate or rotate, registry writes and the remote call alike,
// so the provisioned flag always refers to the key that is current
// when it is set.
type Coordinator struct {
	registry    account.Registry
	provisioner provision.Provisioner
	logger      *logging.Logger
	metrics     *health.IssuanceMetrics

	// accountLocks maps username to *sync.Mutex.
	accountLocks sync.Map

	// now is swapped by tests.
	now func() time.Time
}

// NewCoordinator wires a coordinator. provisioner may be nil for
// local-only operation (records are then never marked provisioned).
func NewCoordinator(registry account.Registry, provisioner provision.Provisioner, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		registry:    registry,
		provisioner: provisioner,
		logger:      logger,
		metrics:     health.NewIssuanceMetrics(),
		now:         time.Now,
	}
}

// WithClock fixes the coordinator's clock. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// lockAccount serializes generate and rotate per username. The
// registry's locked Update alone is not enough: without this, a stalled
// provisioning call can install a superseded key remotely and then mark
// ProvisionedRemotely on a record whose current key is already newer.
func (c *Coordinator) lockAccount(username string) func() {
	v, _ := c.accountLocks.LoadOrStore(username, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func normalizeKeySize(size int) int {
	if size == 0 {
		return keypair.KeySize2048
	}
	return size
}

func validityOrDefault(days int) (int, error) {
	if days == 0 {
		return DefaultValidityDays, nil
	}
	if days < MinValidityDays || days > MaxValidityDays {
		return 0, kwerrors.New(kwerrors.KindInvalidParameter, "",
			"validity must be between %d and %d days, got %d", MinValidityDays, MaxValidityDays, days)
	}
	return days, nil
}

// Generate creates a brand new credential: key pair, registry record,
// and remote provisioning.
//
// Provisioning failure is a partial success, not an error: the record
// is already committed locally, the private key is still returned, and
// the result carries Provisioned=false with the cause. Validation or
// generation failures before the record is committed return an error
// and leave no state behind.
func (c *Coordinator) Generate(ctx context.Context, req GenerateRequest) (*Issued, error) {
	unlock := c.lockAccount(req.Username)
	defer unlock()

	start := c.now()
	c.metrics.RecordIssuanceStarted("generate")

	issued, err := c.generate(ctx, req, start)
	c.recordOutcome("generate", start, issued, err)
	return issued, err
}

func (c *Coordinator) generate(ctx context.Context, req GenerateRequest, now time.Time) (*Issued, error) {
	if req.Username == "" {
		return nil, kwerrors.New(kwerrors.KindInvalidParameter, "", "username is required")
	}
	validityDays, err := validityOrDefault(req.ValidityDays)
	if err != nil {
		return nil, err
	}

	trail := []AuditEntry{{Timestamp: now, Action: "generate_requested", Detail: req.Username}}

	pair, err := keypair.Generate(normalizeKeySize(req.KeySize))
	if err != nil {
		return nil, err
	}
	trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "keypair_generated"})

	record := &account.CredentialRecord{
		Username:              req.Username,
		Purpose:               req.Purpose,
		Role:                  req.Role,
		RequestorName:         req.RequestorName,
		RequestorEmail:        req.RequestorEmail,
		BusinessJustification: req.BusinessJustification,
		PublicKeyPEM:          pair.PublicKeyPEM,
		CreatedAt:             now,
		ExpiresAt:             now.Add(time.Duration(validityDays) * 24 * time.Hour),
		LastRotatedAt:         now,
	}
	if err := c.registry.Create(record); err != nil {
		return nil, err
	}
	trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "record_committed"})

	provisioned, provErr := c.provision(ctx, "generate", func(ctx context.Context) error {
		return c.provisioner.RegisterPublicKey(ctx, req.Username, pair.PublicKeyPEM, req.Role)
	})
	if provisioned {
		record, err = c.registry.Update(req.Username, func(r *account.CredentialRecord) error {
			r.ProvisionedRemotely = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "provisioned_remotely"})
	} else if provErr != nil {
		detail := logging.RedactPEM(provErr.Error())
		trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "provisioning_failed", Detail: detail})
		c.logger.Warn("Provisioning failed for %s; local record kept, re-run provisioning later: %s", req.Username, detail)
	}

	return c.issue(record, pair, provisioned, provErr, trail), nil
}

// Rotate replaces the credential of an existing account. The prior
// public key moves to the previous slot with a grace deadline of the
// rotation instant plus GracePeriod, regardless of whether the old key
// had already expired.
//
// Partial success mirrors Generate: the rotated record persists locally
// even when the warehouse update fails.
func (c *Coordinator) Rotate(ctx context.Context, req RotateRequest) (*Issued, error) {
	unlock := c.lockAccount(req.Username)
	defer unlock()

	start := c.now()
	c.metrics.RecordIssuanceStarted("rotate")

	issued, err := c.rotate(ctx, req, start)
	c.recordOutcome("rotate", start, issued, err)
	return issued, err
}

func (c *Coordinator) rotate(ctx context.Context, req RotateRequest, now time.Time) (*Issued, error) {
	validityDays, err := validityOrDefault(req.ValidityDays)
	if err != nil {
		return nil, err
	}

	trail := []AuditEntry{{Timestamp: now, Action: "rotate_requested", Detail: req.Username}}

	pair, err := keypair.Generate(normalizeKeySize(req.KeySize))
	if err != nil {
		return nil, err
	}
	trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "keypair_generated"})

	graceUntil := now.Add(GracePeriod)
	record, err := c.registry.Update(req.Username, func(r *account.CredentialRecord) error {
		r.PreviousPublicKeyPEM = r.PublicKeyPEM
		r.PreviousKeyGraceUntil = &graceUntil
		r.PublicKeyPEM = pair.PublicKeyPEM
		r.ExpiresAt = now.Add(time.Duration(validityDays) * 24 * time.Hour)
		r.LastRotatedAt = now
		// Cleared until the warehouse confirms the new key.
		r.ProvisionedRemotely = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "record_rotated",
		Detail: "previous key valid until " + graceUntil.Format(time.RFC3339)})

	provisioned, provErr := c.provision(ctx, "rotate", func(ctx context.Context) error {
		return c.provisioner.UpdatePublicKey(ctx, req.Username, pair.PublicKeyPEM)
	})
	if provisioned {
		record, err = c.registry.Update(req.Username, func(r *account.CredentialRecord) error {
			r.ProvisionedRemotely = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "provisioned_remotely"})
	} else if provErr != nil {
		detail := logging.RedactPEM(provErr.Error())
		trail = append(trail, AuditEntry{Timestamp: c.now(), Action: "provisioning_failed", Detail: detail})
		c.logger.Warn("Provisioning failed for %s; local rotation kept, re-run provisioning later: %s", req.Username, detail)
	}

	return c.issue(record, pair, provisioned, provErr, trail), nil
}

func (c *Coordinator) provision(ctx context.Context, operation string, call func(context.Context) error) (bool, error) {
	if c.provisioner == nil {
		return false, nil
	}
	if err := call(ctx); err != nil {
		c.metrics.RecordProvisioningFailure(operation)
		return false, err
	}
	return true, nil
}

func (c *Coordinator) issue(record *account.CredentialRecord, pair *keypair.Pair, provisioned bool, provErr error, trail []AuditEntry) *Issued {
	fingerprint, err := keypair.Fingerprint(pair.PublicKeyPEM)
	if err != nil {
		fingerprint = ""
	}
	return &Issued{
		Summary:         record.Summarize(c.now()),
		Fingerprint:     fingerprint,
		Key:             secure.NewKeyBuffer([]byte(pair.PrivateKeyPEM)),
		Provisioned:     provisioned,
		ProvisioningErr: provErr,
		AuditTrail:      trail,
	}
}

func (c *Coordinator) recordOutcome(operation string, start time.Time, issued *Issued, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "failure"
	case issued != nil && issued.ProvisioningErr != nil:
		status = "partial"
	}
	c.metrics.RecordIssuanceCompleted(operation, status, c.now().Sub(start).Seconds())

	agg := c.registry.Aggregate(c.now())
	c.metrics.SetAccountsByStatus(string(lifecycle.StatusActive), agg.Active)
	c.metrics.SetAccountsByStatus(string(lifecycle.StatusExpiringSoon), agg.ExpiringSoon)
	c.metrics.SetAccountsByStatus(string(lifecycle.StatusExpired), agg.Expired)
}
