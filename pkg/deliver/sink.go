// Package deliver hands freshly issued private keys to their one-time
// destination: a local ZIP archive for the operator, or a cloud secret
// store the requesting team already reads from.
//
// Sinks receive the plaintext exactly once, immediately after
// issuance. Nothing in this package retains key material after Store
// returns.
package deliver

import (
	"context"
	"fmt"
	"strings"
)

// Sink is a destination for one private key.
type Sink interface {
	// Name identifies the sink in logs and results.
	Name() string

	// Store writes the private key for the account. Implementations
	// must not log or retain the key.
	Store(ctx context.Context, username string, privateKeyPEM []byte) error
}

// secretName builds the per-account secret identifier used by the
// cloud sinks. Azure restricts names to alphanumerics and dashes, so
// underscores are folded.
func secretName(username string) string {
	return fmt.Sprintf("keywarden-%s-private-key", strings.ReplaceAll(username, "_", "-"))
}
