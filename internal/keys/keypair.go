package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"
)

// Signer produces signatures that can be attached to a signed document.
// The verification side never needs this interface; it exists for fixture
// manifests and local development signing.
type Signer interface {
	// Public returns the public half of the signing key.
	Public() *PublicKey

	// Sign signs the canonical serialization of a payload.
	Sign(message []byte) ([]byte, error)
}

// EphemeralKeyPair is an in-memory ECDSA P-256 key pair. It is never
// persisted; production manifests are signed by an external signing
// service and only verified here.
type EphemeralKeyPair struct {
	private *ecdsa.PrivateKey
	public  PublicKey
}

// NewEphemeralKeyPair generates a fresh P-256 key pair with the given role.
// A nil expiry produces a key that never expires.
func NewEphemeralKeyPair(role KeyRole, expiry *time.Time) (*EphemeralKeyPair, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	return &EphemeralKeyPair{
		private: private,
		public: PublicKey{
			Role:      role,
			Algorithm: AlgorithmEcdsaP256Sha256,
			Expiry:    expiry,
			Public:    der,
		},
	}, nil
}

// Public returns the public half of the pair.
func (p *EphemeralKeyPair) Public() *PublicKey {
	return &p.public
}

// Sign signs message with the private half of the pair.
func (p *EphemeralKeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)

	signature, err := ecdsa.SignASN1(rand.Reader, p.private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	return signature, nil
}
