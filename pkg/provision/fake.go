package provision

import (
	"context"
	"sync"
	"time"

	kwerrors "github.com/systmms/keywarden/internal/errors"
)

// remoteKey is one installed key on the fake warehouse, with the
// deadline until which it remains accepted after being replaced.
type remoteKey struct {
	publicKeyPEM string
	acceptUntil  *time.Time
}

// Fake is an in-memory Provisioner for tests and dry runs. It mimics
// the warehouse's overlap behavior: after an update the prior key keeps
// authenticating until the grace deadline set by AllowPreviousUntil.
type Fake struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount

	// FailWith, when set, makes every call return this error.
	FailWith error
}

type fakeAccount struct {
	current  remoteKey
	previous *remoteKey
	role     string
}

// NewFake creates an empty fake warehouse.
func NewFake() *Fake {
	return &Fake{accounts: make(map[string]*fakeAccount)}
}

func (f *Fake) RegisterPublicKey(ctx context.Context, username, publicKeyPEM, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailWith != nil {
		return f.FailWith
	}
	if _, exists := f.accounts[username]; exists {
		return kwerrors.New(kwerrors.KindDuplicateUsername, username, "remote account already exists")
	}
	f.accounts[username] = &fakeAccount{
		current: remoteKey{publicKeyPEM: publicKeyPEM},
		role:    role,
	}
	return nil
}

func (f *Fake) UpdatePublicKey(ctx context.Context, username, publicKeyPEM string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailWith != nil {
		return f.FailWith
	}
	acct, exists := f.accounts[username]
	if !exists {
		return kwerrors.New(kwerrors.KindNotFound, username, "remote account does not exist")
	}
	prior := acct.current
	acct.previous = &prior
	acct.current = remoteKey{publicKeyPEM: publicKeyPEM}
	return nil
}

// AllowPreviousUntil sets the deadline after which the replaced key
// stops authenticating.
func (f *Fake) AllowPreviousUntil(username string, deadline time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if acct, exists := f.accounts[username]; exists && acct.previous != nil {
		d := deadline
		acct.previous.acceptUntil = &d
	}
}

// Accepts reports whether the given public key would authenticate the
// account at the given time.
func (f *Fake) Accepts(username, publicKeyPEM string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	acct, exists := f.accounts[username]
	if !exists {
		return false
	}
	if acct.current.publicKeyPEM == publicKeyPEM {
		return true
	}
	if acct.previous != nil && acct.previous.publicKeyPEM == publicKeyPEM {
		return acct.previous.acceptUntil != nil && now.Before(*acct.previous.acceptUntil)
	}
	return false
}

// CurrentKey returns the key the warehouse currently holds for the
// account.
func (f *Fake) CurrentKey(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if acct, exists := f.accounts[username]; exists {
		return acct.current.publicKeyPEM
	}
	return ""
}

// Registered reports whether the account exists remotely.
func (f *Fake) Registered(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.accounts[username]
	return exists
}

// Role returns the role granted at registration.
func (f *Fake) Role(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if acct, exists := f.accounts[username]; exists {
		return acct.role
	}
	return ""
}
