package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// KeyID uniquely identifies a public key. It is the base64-encoded SHA-256
// digest of the key's SPKI DER encoding, so two independent implementations
// derive the same ID for the same key material.
type KeyID string

// KeyRole restricts what a key is allowed to sign. A key has exactly one role.
type KeyRole string

const (
	// RoleRoot keys anchor the trust chain and authorize release key sets.
	RoleRoot KeyRole = "root"
	// RoleRelease keys sign individual release manifests.
	RoleRelease KeyRole = "release"
)

// Algorithm is the signature algorithm tag carried by every key.
type Algorithm string

// AlgorithmEcdsaP256Sha256 is ECDSA over P-256 with SHA-256 digests,
// ASN.1-encoded signatures and SPKI DER public keys. It is the only
// algorithm currently implemented.
const AlgorithmEcdsaP256Sha256 Algorithm = "ecdsa-p256-sha256-asn1-spki-der"

var (
	// ErrUnknownKey is returned when a key ID cannot be resolved.
	ErrUnknownKey = errors.New("unknown key")
	// ErrUnsupportedAlgorithm is returned when a key carries an algorithm
	// tag this implementation cannot verify.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	// ErrSignatureMismatch is returned when a signature does not verify
	// against the key. It is an ordinary value, not a panic: quorum
	// counting treats it as "this signature does not count".
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// PublicKey is a single public key loaded from configuration or from a
// verified key set manifest. It is immutable once decoded.
type PublicKey struct {
	Role      KeyRole    `json:"role"`
	Algorithm Algorithm  `json:"algorithm"`
	Expiry    *time.Time `json:"expiry"`
	Public    []byte     `json:"public"` // SPKI DER, base64 on the wire
}

// ID derives the key's identifier from its public key material.
func (k *PublicKey) ID() KeyID {
	sum := sha256.Sum256(k.Public)
	return KeyID(base64.StdEncoding.EncodeToString(sum[:]))
}

// ExpiredAt reports whether the key is expired at the given instant.
// Keys without an expiry never expire.
func (k *PublicKey) ExpiredAt(at time.Time) bool {
	return k.Expiry != nil && at.After(*k.Expiry)
}

// Verify checks signature over message. The message must be the canonical
// byte serialization of the signed object, never a re-encoded form.
//
// A cryptographic mismatch returns ErrSignatureMismatch. An algorithm tag
// that is not implemented returns ErrUnsupportedAlgorithm.
func (k *PublicKey) Verify(message, signature []byte) error {
	switch k.Algorithm {
	case AlgorithmEcdsaP256Sha256:
		return verifyEcdsaP256(k.Public, message, signature)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, k.Algorithm)
	}
}

func verifyEcdsaP256(spkiDER, message, signature []byte) error {
	parsed, err := x509.ParsePKIXPublicKey(spkiDER)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}

	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: key material is not ECDSA", ErrSignatureMismatch)
	}

	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(pub, digest[:], signature) {
		return ErrSignatureMismatch
	}

	return nil
}
