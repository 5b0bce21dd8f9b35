// Package manifest defines the signed release manifest format and the trust
// evaluation that decides whether a manifest may drive an installation.
//
// A manifest document carries two signed payloads: the authorized release
// key set, signed by root keys, and the release body, signed by release
// keys. The bytes actually signed are the exact text of the Signed field;
// verification never re-encodes it.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/skade/criticalup/internal/keys"
)

// DocumentVersion is the manifest document schema version understood by
// this implementation.
const DocumentVersion = 1

// Signature binds a key ID to the signature bytes it produced over a signed
// payload's canonical text.
type Signature struct {
	KeyID     keys.KeyID `json:"key_id"`
	Signature []byte     `json:"signature"` // base64 on the wire
}

// SignedDocument is a payload with signatures attached. Signed holds the
// exact JSON text whose bytes were signed.
type SignedDocument struct {
	Signed     string      `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

// Digest returns the hex SHA-256 of the signed text. The digest of the
// release payload is what the state store records as the manifest digest.
func (d *SignedDocument) Digest() string {
	sum := sha256.Sum256([]byte(d.Signed))
	return hex.EncodeToString(sum[:])
}

// Sign builds a signed document from a payload body and a set of signers.
// The body is serialized with CanonicalJSON once and every signer signs
// those exact bytes.
func Sign(body any, signers ...keys.Signer) (SignedDocument, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return SignedDocument{}, fmt.Errorf("canonicalize body: %w", err)
	}

	doc := SignedDocument{Signed: string(canonical)}
	for _, signer := range signers {
		signature, err := signer.Sign(canonical)
		if err != nil {
			return SignedDocument{}, fmt.Errorf("sign body: %w", err)
		}
		doc.Signatures = append(doc.Signatures, Signature{
			KeyID:     signer.Public().ID(),
			Signature: signature,
		})
	}

	return doc, nil
}

// KeySet is the signed body authorizing release keys. It is the link in the
// trust chain between the root and release levels: root keys sign it, and
// only keys listed here may count toward the release quorum.
type KeySet struct {
	ReleaseKeys      []*keys.PublicKey `json:"release_keys"`
	ReleaseThreshold int               `json:"release_threshold"`
	Revoked          []keys.KeyID      `json:"revoked,omitempty"`
}

// Artifact describes one downloadable file of a release.
type Artifact struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"` // hex digest of the artifact contents
	Size   int64  `json:"size"`

	// SignatureURL optionally points at a detached OpenPGP signature over
	// the artifact contents, verified in addition to the content hash.
	SignatureURL string `json:"signature_url,omitempty"`
}

// Release is the signed body of a release manifest.
type Release struct {
	Product   string     `json:"product"`
	Version   string     `json:"version"`
	Artifacts []Artifact `json:"artifacts"`
}

// Document is the wire form of a release manifest as served by the
// download server.
type Document struct {
	Version int            `json:"version"`
	Keys    SignedDocument `json:"keys"`
	Release SignedDocument `json:"release"`
}
