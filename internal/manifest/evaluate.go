package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/skade/criticalup/internal/keys"
)

// Status is the outcome of evaluating a manifest document. It is a closed
// set: every rejection carries its specific cause.
type Status int

const (
	// StatusTrusted means both quorums were met and the release body is
	// safe to act on.
	StatusTrusted Status = iota
	// StatusRootThresholdNotMet means too few valid root signatures cover
	// the release key set.
	StatusRootThresholdNotMet
	// StatusReleaseThresholdNotMet means too few valid release signatures
	// cover the release body.
	StatusReleaseThresholdNotMet
	// StatusMalformedManifest means the document could not be decoded or
	// is internally inconsistent.
	StatusMalformedManifest
)

// String returns a stable name for the status.
func (s Status) String() string {
	switch s {
	case StatusTrusted:
		return "trusted"
	case StatusRootThresholdNotMet:
		return "root threshold not met"
	case StatusReleaseThresholdNotMet:
		return "release threshold not met"
	case StatusMalformedManifest:
		return "malformed manifest"
	default:
		return "unknown"
	}
}

// Verdict is the result of trust evaluation. The quorum counts are always
// populated for the levels that were evaluated, so a rejection can be
// diagnosed without re-running with extra logging.
type Verdict struct {
	Status Status

	RootValid    int
	RootRequired int

	ReleaseValid    int
	ReleaseRequired int

	// Manifest and Digest are set only when Status is StatusTrusted.
	Manifest *Release
	Digest   string

	// Detail describes what went wrong for malformed documents.
	Detail string
}

// Trusted reports whether the manifest may drive an installation.
func (v Verdict) Trusted() bool {
	return v.Status == StatusTrusted
}

// Evaluate applies the two-level trust chain to a manifest document.
//
// First the release key set must gather the root quorum: valid signatures
// from distinct, non-revoked, non-expired root keys over its signed text.
// Then the release body must gather the release quorum from distinct
// members of the now-authorized key set. Signatures from unknown, revoked,
// expired or mismatching keys are excluded from the count rather than
// failing outright; only a quorum falling short is fatal. This means a
// single compromised or retired key cannot invalidate an otherwise
// properly co-signed release.
//
// Expiry and revocation are checked against now, the evaluation time, not
// against signing time: a key that was valid when it signed but has since
// been revoked or expired no longer contributes to any quorum. Revocations
// listed inside a root-authorized key set are folded into the keyring
// before the release quorum is counted.
func Evaluate(doc *Document, ring *keys.Keyring, now time.Time) Verdict {
	if doc.Version != DocumentVersion {
		return Verdict{
			Status: StatusMalformedManifest,
			Detail: fmt.Sprintf("unsupported document version %d", doc.Version),
		}
	}

	verdict := Verdict{RootRequired: ring.RootThreshold()}

	verdict.RootValid = countRootQuorum(&doc.Keys, ring, now)
	if verdict.RootValid < verdict.RootRequired {
		verdict.Status = StatusRootThresholdNotMet
		return verdict
	}

	var keySet KeySet
	if err := json.Unmarshal([]byte(doc.Keys.Signed), &keySet); err != nil {
		verdict.Status = StatusMalformedManifest
		verdict.Detail = fmt.Sprintf("decode key set: %v", err)
		return verdict
	}
	if keySet.ReleaseThreshold < 1 {
		verdict.Status = StatusMalformedManifest
		verdict.Detail = fmt.Sprintf("release threshold must be at least 1, got %d", keySet.ReleaseThreshold)
		return verdict
	}

	// The key set passed the root quorum, so its contents are trusted:
	// register its release keys and accumulate its revocations.
	ring.AddRevoked(keySet.Revoked...)
	ring.AddRelease(keySet.ReleaseKeys...)

	verdict.ReleaseRequired = keySet.ReleaseThreshold
	verdict.ReleaseValid = countReleaseQuorum(&doc.Release, ring, now)
	if verdict.ReleaseValid < verdict.ReleaseRequired {
		verdict.Status = StatusReleaseThresholdNotMet
		return verdict
	}

	var release Release
	if err := json.Unmarshal([]byte(doc.Release.Signed), &release); err != nil {
		verdict.Status = StatusMalformedManifest
		verdict.Detail = fmt.Sprintf("decode release: %v", err)
		return verdict
	}

	verdict.Status = StatusTrusted
	verdict.Manifest = &release
	verdict.Digest = doc.Release.Digest()
	return verdict
}

// countRootQuorum counts valid signatures from distinct root keys over the
// signed text.
func countRootQuorum(doc *SignedDocument, ring *keys.Keyring, now time.Time) int {
	message := []byte(doc.Signed)
	counted := make(map[keys.KeyID]bool)

	valid := 0
	for _, sig := range doc.Signatures {
		if counted[sig.KeyID] {
			continue
		}

		key, err := ring.Resolve(sig.KeyID)
		if err != nil || key.Role != keys.RoleRoot {
			continue
		}
		if ring.IsRevoked(sig.KeyID) || ring.IsExpired(key, now) {
			continue
		}
		if key.Verify(message, sig.Signature) != nil {
			continue
		}

		counted[sig.KeyID] = true
		valid++
	}
	return valid
}

// countReleaseQuorum counts valid signatures from distinct members of the
// authorized release key set over the signed text. Root keys never count
// here, even when the key set lists the same key material.
func countReleaseQuorum(doc *SignedDocument, ring *keys.Keyring, now time.Time) int {
	message := []byte(doc.Signed)
	counted := make(map[keys.KeyID]bool)

	valid := 0
	for _, sig := range doc.Signatures {
		if counted[sig.KeyID] {
			continue
		}

		key, ok := ring.ReleaseKey(sig.KeyID)
		if !ok {
			continue
		}
		if ring.IsRevoked(sig.KeyID) || ring.IsExpired(key, now) {
			continue
		}
		if key.Verify(message, sig.Signature) != nil {
			continue
		}

		counted[sig.KeyID] = true
		valid++
	}
	return valid
}
