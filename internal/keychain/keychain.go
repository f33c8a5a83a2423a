// Package keychain stores the warehouse operator password in the OS
// credential store so it never appears in keywarden.yaml.
package keychain

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const service = "keywarden"

// Set stores the password for a warehouse user.
func Set(user, password string) error {
	return keyring.Set(service, user, password)
}

// Get returns the stored password, or "" with ok=false when none is
// stored.
func Get(user string) (string, bool, error) {
	secret, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return secret, true, nil
}

// Delete removes the stored password. Missing entries are not an
// error.
func Delete(user string) error {
	err := keyring.Delete(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
