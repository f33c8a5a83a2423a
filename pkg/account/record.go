// Package account holds the credential data model and the registry of
// service accounts keyed by username.
package account

import (
	"time"

	"github.com/systmms/keywarden/pkg/lifecycle"
)

// CredentialRecord is the stored state of one service account's
// credential. It deliberately has no private-key field: plaintext key
// material only ever travels in the one-time issuance result, never
// through the registry or its persistence.
type CredentialRecord struct {
	// Username is the unique service account name, immutable after
	// creation.
	Username string `json:"username"`

	// Purpose is free-text provenance (e.g. "Tableau", "Airflow ETL").
	Purpose string `json:"purpose,omitempty"`

	// Role is the warehouse role granted to the account.
	Role string `json:"role,omitempty"`

	RequestorName         string `json:"requestor_name,omitempty"`
	RequestorEmail        string `json:"requestor_email,omitempty"`
	BusinessJustification string `json:"business_justification,omitempty"`

	// PublicKeyPEM is the current public key, SPKI PEM. Derived from
	// the private key at issuance, never secret.
	PublicKeyPEM string `json:"public_key_pem"`

	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastRotatedAt time.Time `json:"last_rotated_at"`

	// ProvisionedRemotely is true once the warehouse confirmed the
	// current public key is installed.
	ProvisionedRemotely bool `json:"provisioned_remotely"`

	// PreviousPublicKeyPEM and PreviousKeyGraceUntil are set on
	// rotation: the prior key stays acceptable for authentication
	// until the grace deadline so in-flight clients keep working.
	// The previous key is never "current".
	PreviousPublicKeyPEM  string     `json:"previous_public_key_pem,omitempty"`
	PreviousKeyGraceUntil *time.Time `json:"previous_key_grace_until,omitempty"`
}

// Status derives the lifecycle tier at the given time. Status is never
// stored.
func (r *CredentialRecord) Status(now time.Time) lifecycle.Status {
	return lifecycle.Classify(r.ExpiresAt, now)
}

// InGrace reports whether the previous key is still within its
// post-rotation grace window.
func (r *CredentialRecord) InGrace(now time.Time) bool {
	return r.PreviousKeyGraceUntil != nil && now.Before(*r.PreviousKeyGraceUntil)
}

// Clone returns a deep copy so registry callers never alias stored
// state.
func (r *CredentialRecord) Clone() *CredentialRecord {
	c := *r
	if r.PreviousKeyGraceUntil != nil {
		t := *r.PreviousKeyGraceUntil
		c.PreviousKeyGraceUntil = &t
	}
	return &c
}

// Summary is the redacted listing view of a record, with the derived
// status attached. It is the only shape the list and status surfaces
// ever see.
type Summary struct {
	Username            string           `json:"username"`
	Purpose             string           `json:"purpose,omitempty"`
	Role                string           `json:"role,omitempty"`
	RequestorName       string           `json:"requestor_name,omitempty"`
	RequestorEmail      string           `json:"requestor_email,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	ExpiresAt           time.Time        `json:"expires_at"`
	LastRotatedAt       time.Time        `json:"last_rotated_at"`
	ProvisionedRemotely bool             `json:"provisioned_remotely"`
	Status              lifecycle.Status `json:"status"`
	DaysRemaining       int              `json:"days_remaining"`
	PreviousKeyInGrace  bool             `json:"previous_key_in_grace,omitempty"`
}

// Summarize derives the redacted view at the given time.
func (r *CredentialRecord) Summarize(now time.Time) Summary {
	return Summary{
		Username:            r.Username,
		Purpose:             r.Purpose,
		Role:                r.Role,
		RequestorName:       r.RequestorName,
		RequestorEmail:      r.RequestorEmail,
		CreatedAt:           r.CreatedAt,
		ExpiresAt:           r.ExpiresAt,
		LastRotatedAt:       r.LastRotatedAt,
		ProvisionedRemotely: r.ProvisionedRemotely,
		Status:              r.Status(now),
		DaysRemaining:       lifecycle.DaysUntil(r.ExpiresAt, now),
		PreviousKeyInGrace:  r.InGrace(now),
	}
}

// Aggregate is the recomputed roll-up over all records. Never cached;
// always derived from current records via the classifier.
type Aggregate struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	ExpiringSoon int `json:"expiring_soon"`
	Expired      int `json:"expired"`
	Provisioned  int `json:"provisioned"`
}
