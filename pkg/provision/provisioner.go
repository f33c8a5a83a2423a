// Package provision installs public keys on the remote warehouse.
//
// The provisioner is a collaborator of the rotation coordinator: it is
// handed the public half of a freshly issued pair and is the only
// component that talks to the warehouse. It never sees private keys.
package provision

import "context"

// Provisioner installs and replaces public keys for service accounts on
// the remote system.
type Provisioner interface {
	// RegisterPublicKey creates the remote service account with the
	// given public key and grants it the role. Used on first issuance.
	RegisterPublicKey(ctx context.Context, username, publicKeyPEM, role string) error

	// UpdatePublicKey replaces the remote account's current public key.
	// Used on rotation; the remote side keeps honoring the prior key
	// until its grace deadline through its own session handling.
	UpdatePublicKey(ctx context.Context, username, publicKeyPEM string) error
}
