package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// KeyBuffer holds a freshly generated private key between issuance and
// one-time delivery to the operator. It wraps memguard.Enclave so the
// PEM text is encrypted at rest in memory and protected from swapping
// via mlock. Once delivered (or abandoned), callers Destroy the buffer;
// the registry never sees the plaintext at all.
type KeyBuffer struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy() calls and prevents
	// use after destroy
	destroyed bool
}

// NewKeyBuffer seals private key material into a protected buffer.
// The input slice is consumed by memguard and wiped; callers must not
// reuse it.
func NewKeyBuffer(pem []byte) *KeyBuffer {
	// memguard.NewEnclave encrypts the data (XSalsa20Poly1305),
	// attempts to mlock the backing pages and adds guard pages.
	// If mlock is unavailable (RLIMIT_MEMLOCK) it degrades to
	// standard allocation.
	return &KeyBuffer{
		enclave: memguard.NewEnclave(pem),
	}
}

// Open decrypts and returns the key in a locked buffer. The caller
// MUST call Destroy() on the returned LockedBuffer when done to wipe
// the plaintext:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	writePEM(locked.Bytes())
func (k *KeyBuffer) Open() (*memguard.LockedBuffer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.destroyed {
		return nil, errors.New("key buffer already destroyed")
	}

	return k.enclave.Open()
}

// Destroy marks the buffer as spent. Idempotent; after Destroy, Open
// returns an error. The encrypted enclave data is safe to leave
// for the garbage collector; for full cleanup at process exit call
// memguard.Purge() in main.
func (k *KeyBuffer) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return
	}

	k.enclave = nil
	k.destroyed = true
}
