// Package keypair generates the RSA key pairs used for warehouse
// key-based authentication.
//
// Private keys are emitted as unencrypted PKCS#8 PEM, public keys as
// SubjectPublicKeyInfo PEM. Both encodings are what the warehouse-side
// tooling expects: the provisioner strips the armor lines and feeds the
// bare base64 payload to CREATE USER / ALTER USER, so the PEM output
// must stay free of line-ending variance within a call (pem.Encode
// guarantees '\n' throughout).
package keypair

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	kwerrors "github.com/systmms/keywarden/internal/errors"
)

// Supported RSA modulus sizes. The warehouse accepts only these two;
// rsa.GenerateKey fixes the public exponent at 65537, which is the
// compatibility requirement for its key-based auth.
const (
	KeySize2048 = 2048
	KeySize4096 = 4096
)

// ValidKeySize reports whether size is one of the supported moduli.
func ValidKeySize(size int) bool {
	return size == KeySize2048 || size == KeySize4096
}

// Pair holds one generated key pair in PEM text form.
type Pair struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// Generate produces a fresh RSA key pair from crypto/rand.
//
// Returns an invalid_parameter error for unsupported key sizes and a
// generation_failed error if the entropy source or marshalling fails.
// No side effects beyond entropy consumption; an abandoned result is
// safely discardable.
func Generate(keySize int) (*Pair, error) {
	if !ValidKeySize(keySize) {
		return nil, kwerrors.New(kwerrors.KindInvalidParameter, "",
			"unsupported key size %d (must be %d or %d)", keySize, KeySize2048, KeySize4096)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, kwerrors.Wrap(kwerrors.KindGenerationFailed, "", err, "failed to generate RSA key")
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, kwerrors.Wrap(kwerrors.KindGenerationFailed, "", err, "failed to marshal private key")
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyDER,
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, kwerrors.Wrap(kwerrors.KindGenerationFailed, "", err, "failed to marshal public key")
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	return &Pair{
		PrivateKeyPEM: string(privatePEM),
		PublicKeyPEM:  string(publicPEM),
	}, nil
}

// StripArmor removes the PEM header/footer lines and all whitespace,
// returning the bare base64 payload the warehouse wants in
// RSA_PUBLIC_KEY = '...'.
func StripArmor(pemText string) string {
	var b strings.Builder
	for _, line := range strings.Split(pemText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// Fingerprint returns the SHA-256 fingerprint of a public key in the
// form the warehouse reports (SHA256:<base64 of the SPKI digest>).
// Useful for confirming which key a remote account currently holds.
func Fingerprint(publicPEM string) (string, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return "", kwerrors.New(kwerrors.KindInvalidParameter, "", "not a PEM public key")
	}
	sum := sha256.Sum256(block.Bytes)
	return "SHA256:" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// PublicKeyFor re-derives the SPKI PEM for a PKCS#8 private key.
// Used by tests and by doctor-style verification to confirm a stored
// public key matches a delivered private key.
func PublicKeyFor(privatePEM string) (string, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return "", kwerrors.New(kwerrors.KindInvalidParameter, "", "not a PEM private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", kwerrors.Wrap(kwerrors.KindInvalidParameter, "", err, "failed to parse private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return "", kwerrors.New(kwerrors.KindInvalidParameter, "", "private key is not RSA")
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
	if err != nil {
		return "", kwerrors.Wrap(kwerrors.KindGenerationFailed, "", err, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})), nil
}
