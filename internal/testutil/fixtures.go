// Package testutil builds throwaway trust material for tests: ephemeral
// key pairs, signed key sets, and complete manifest documents. Production
// code never imports it.
package testutil

import (
	"testing"
	"time"

	"github.com/skade/criticalup/internal/keys"
	"github.com/skade/criticalup/internal/manifest"
)

// TrustFixture holds a complete two-level trust chain for tests.
type TrustFixture struct {
	RootPairs    []*keys.EphemeralKeyPair
	ReleasePairs []*keys.EphemeralKeyPair

	RootThreshold    int
	ReleaseThreshold int

	// Revoked is folded into the signed key set.
	Revoked []keys.KeyID
}

// NewTrustFixture generates fresh root and release key pairs.
func NewTrustFixture(t *testing.T, rootKeys, rootThreshold, releaseKeys, releaseThreshold int) *TrustFixture {
	t.Helper()

	fixture := &TrustFixture{
		RootThreshold:    rootThreshold,
		ReleaseThreshold: releaseThreshold,
	}

	for i := 0; i < rootKeys; i++ {
		fixture.RootPairs = append(fixture.RootPairs, newPair(t, keys.RoleRoot, nil))
	}
	for i := 0; i < releaseKeys; i++ {
		fixture.ReleasePairs = append(fixture.ReleasePairs, newPair(t, keys.RoleRelease, nil))
	}

	return fixture
}

func newPair(t *testing.T, role keys.KeyRole, expiry *time.Time) *keys.EphemeralKeyPair {
	t.Helper()
	pair, err := keys.NewEphemeralKeyPair(role, expiry)
	if err != nil {
		t.Fatalf("generate %s key pair: %v", role, err)
	}
	return pair
}

// AddReleasePair generates an extra release key with the given expiry and
// appends it to the fixture.
func (f *TrustFixture) AddReleasePair(t *testing.T, expiry *time.Time) *keys.EphemeralKeyPair {
	t.Helper()
	pair := newPair(t, keys.RoleRelease, expiry)
	f.ReleasePairs = append(f.ReleasePairs, pair)
	return pair
}

// RootKeys returns the public halves of the root pairs.
func (f *TrustFixture) RootKeys() []*keys.PublicKey {
	publics := make([]*keys.PublicKey, 0, len(f.RootPairs))
	for _, pair := range f.RootPairs {
		publics = append(publics, pair.Public())
	}
	return publics
}

// Keyring builds a keyring anchored at the fixture's root keys.
func (f *TrustFixture) Keyring(t *testing.T) *keys.Keyring {
	t.Helper()
	ring, err := keys.NewKeyring(f.RootKeys(), f.RootThreshold, nil)
	if err != nil {
		t.Fatalf("build keyring: %v", err)
	}
	return ring
}

// SignedKeySet builds the authorized release key set, signed by the given
// root pairs (all roots when none are given).
func (f *TrustFixture) SignedKeySet(t *testing.T, rootSigners ...*keys.EphemeralKeyPair) manifest.SignedDocument {
	t.Helper()

	if len(rootSigners) == 0 {
		rootSigners = f.RootPairs
	}

	body := manifest.KeySet{
		ReleaseThreshold: f.ReleaseThreshold,
		Revoked:          f.Revoked,
	}
	for _, pair := range f.ReleasePairs {
		body.ReleaseKeys = append(body.ReleaseKeys, pair.Public())
	}

	return sign(t, body, rootSigners)
}

// SignedRelease builds a signed release body, signed by the given release
// pairs (all release keys when none are given).
func (f *TrustFixture) SignedRelease(t *testing.T, release manifest.Release, releaseSigners ...*keys.EphemeralKeyPair) manifest.SignedDocument {
	t.Helper()

	if len(releaseSigners) == 0 {
		releaseSigners = f.ReleasePairs
	}

	return sign(t, release, releaseSigners)
}

// Document assembles a complete manifest document for a release.
func (f *TrustFixture) Document(t *testing.T, release manifest.Release) *manifest.Document {
	t.Helper()
	return &manifest.Document{
		Version: manifest.DocumentVersion,
		Keys:    f.SignedKeySet(t),
		Release: f.SignedRelease(t, release),
	}
}

func sign(t *testing.T, body any, pairs []*keys.EphemeralKeyPair) manifest.SignedDocument {
	t.Helper()

	signers := make([]keys.Signer, 0, len(pairs))
	for _, pair := range pairs {
		signers = append(signers, pair)
	}

	doc, err := manifest.Sign(body, signers...)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	return doc
}

// CorruptSignatures flips a byte in every signature of the document,
// keeping the key IDs intact.
func CorruptSignatures(doc manifest.SignedDocument) manifest.SignedDocument {
	corrupted := manifest.SignedDocument{Signed: doc.Signed}
	for _, sig := range doc.Signatures {
		broken := make([]byte, len(sig.Signature))
		copy(broken, sig.Signature)
		if len(broken) > 0 {
			broken[len(broken)/2] ^= 0xff
		}
		corrupted.Signatures = append(corrupted.Signatures, manifest.Signature{
			KeyID:     sig.KeyID,
			Signature: broken,
		})
	}
	return corrupted
}
