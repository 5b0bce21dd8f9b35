package manifest_test

import (
	"testing"
	"time"

	"github.com/skade/criticalup/internal/keys"
	"github.com/skade/criticalup/internal/manifest"
	"github.com/skade/criticalup/internal/testutil"
)

var evalTime = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func widgetRelease() manifest.Release {
	return manifest.Release{
		Product: "widget",
		Version: "1.0.0",
		Artifacts: []manifest.Artifact{
			{
				Name:   "widget-1.0.0.pkg",
				URL:    "https://releases.example.com/widget-1.0.0.pkg",
				SHA256: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
				Size:   1024,
			},
		},
	}
}

func TestEvaluateTrusted(t *testing.T) {
	// 2-of-3 root quorum authorizing a 1-of-1 release key.
	fixture := testutil.NewTrustFixture(t, 3, 2, 1, 1)
	doc := fixture.Document(t, widgetRelease())

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if !verdict.Trusted() {
		t.Fatalf("expected trusted verdict, got %s", verdict.Status)
	}
	if verdict.Manifest.Product != "widget" || verdict.Manifest.Version != "1.0.0" {
		t.Errorf("unexpected manifest contents: %+v", verdict.Manifest)
	}
	if verdict.Digest == "" {
		t.Error("trusted verdict is missing the manifest digest")
	}
	if verdict.RootValid != 3 || verdict.RootRequired != 2 {
		t.Errorf("root quorum counts = %d/%d, want 3/2", verdict.RootValid, verdict.RootRequired)
	}
	if verdict.ReleaseValid != 1 || verdict.ReleaseRequired != 1 {
		t.Errorf("release quorum counts = %d/%d, want 1/1", verdict.ReleaseValid, verdict.ReleaseRequired)
	}
}

func TestEvaluateRootThresholdNotMet(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 3, 2, 1, 1)

	doc := &manifest.Document{
		Version: manifest.DocumentVersion,
		// Only one root signs the key set; two are required.
		Keys:    fixture.SignedKeySet(t, fixture.RootPairs[0]),
		Release: fixture.SignedRelease(t, widgetRelease()),
	}

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusRootThresholdNotMet {
		t.Fatalf("expected root threshold failure, got %s", verdict.Status)
	}
	if verdict.RootValid != 1 || verdict.RootRequired != 2 {
		t.Errorf("root quorum counts = %d/%d, want 1/2", verdict.RootValid, verdict.RootRequired)
	}
	if verdict.Manifest != nil {
		t.Error("rejected verdict must not expose the manifest")
	}
}

func TestEvaluateReleaseThresholdNotMet(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 2, 2, 2, 2)

	doc := &manifest.Document{
		Version: manifest.DocumentVersion,
		Keys:    fixture.SignedKeySet(t),
		// Only one release key signs; two are required.
		Release: fixture.SignedRelease(t, widgetRelease(), fixture.ReleasePairs[0]),
	}

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusReleaseThresholdNotMet {
		t.Fatalf("expected release threshold failure, got %s", verdict.Status)
	}
	if verdict.ReleaseValid != 1 || verdict.ReleaseRequired != 2 {
		t.Errorf("release quorum counts = %d/%d, want 1/2", verdict.ReleaseValid, verdict.ReleaseRequired)
	}
}

func TestEvaluateRevokedReleaseKey(t *testing.T) {
	// A cryptographically valid signature from a key revoked before
	// verification must not count: revocation is checked at evaluation
	// time, not signing time.
	fixture := testutil.NewTrustFixture(t, 1, 1, 1, 1)
	doc := fixture.Document(t, widgetRelease())

	ring := fixture.Keyring(t)
	ring.AddRevoked(fixture.ReleasePairs[0].Public().ID())

	verdict := manifest.Evaluate(doc, ring, evalTime)
	if verdict.Status != manifest.StatusReleaseThresholdNotMet {
		t.Fatalf("expected release threshold failure, got %s", verdict.Status)
	}
}

func TestEvaluateRevokedRootKey(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 2, 2, 1, 1)
	doc := fixture.Document(t, widgetRelease())

	ring := fixture.Keyring(t)
	ring.AddRevoked(fixture.RootPairs[0].Public().ID())

	verdict := manifest.Evaluate(doc, ring, evalTime)
	if verdict.Status != manifest.StatusRootThresholdNotMet {
		t.Fatalf("expected root threshold failure, got %s", verdict.Status)
	}
	if verdict.RootValid != 1 {
		t.Errorf("root quorum count = %d, want 1", verdict.RootValid)
	}
}

func TestEvaluateKeySetRevokesReleaseKey(t *testing.T) {
	// Revocations embedded in a root-authorized key set apply before the
	// release quorum is counted.
	fixture := testutil.NewTrustFixture(t, 1, 1, 1, 1)
	fixture.Revoked = []keys.KeyID{fixture.ReleasePairs[0].Public().ID()}

	doc := fixture.Document(t, widgetRelease())

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusReleaseThresholdNotMet {
		t.Fatalf("expected release threshold failure, got %s", verdict.Status)
	}
}

func TestEvaluateExpiredReleaseKeyAtEvaluationTime(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 1, 1, 0, 1)

	// The key expires after signing but before evaluation.
	expiry := evalTime.Add(-time.Hour)
	fixture.AddReleasePair(t, &expiry)

	doc := fixture.Document(t, widgetRelease())

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusReleaseThresholdNotMet {
		t.Fatalf("expected release threshold failure, got %s", verdict.Status)
	}

	// The same document verifies before the expiry.
	verdict = manifest.Evaluate(doc, fixture.Keyring(t), evalTime.Add(-2*time.Hour))
	if !verdict.Trusted() {
		t.Fatalf("expected trusted verdict before expiry, got %s", verdict.Status)
	}
}

func TestEvaluateUnknownSignaturesAreSkipped(t *testing.T) {
	// Signatures from keys outside the trust chain dilute nothing: the
	// quorum still passes on the valid ones.
	fixture := testutil.NewTrustFixture(t, 2, 2, 1, 1)
	stranger := testutil.NewTrustFixture(t, 1, 1, 1, 1)

	doc := fixture.Document(t, widgetRelease())
	doc.Keys.Signatures = append(doc.Keys.Signatures,
		stranger.SignedKeySet(t).Signatures...)

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if !verdict.Trusted() {
		t.Fatalf("expected trusted verdict, got %s", verdict.Status)
	}
	if verdict.RootValid != 2 {
		t.Errorf("root quorum count = %d, want 2", verdict.RootValid)
	}
}

func TestEvaluateCorruptRootSignatures(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 2, 2, 1, 1)
	doc := fixture.Document(t, widgetRelease())
	doc.Keys = testutil.CorruptSignatures(doc.Keys)

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusRootThresholdNotMet {
		t.Fatalf("expected root threshold failure, got %s", verdict.Status)
	}
	if verdict.RootValid != 0 {
		t.Errorf("root quorum count = %d, want 0", verdict.RootValid)
	}
}

func TestEvaluateDuplicateSignaturesCountOnce(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 2, 2, 1, 1)

	doc := &manifest.Document{
		Version: manifest.DocumentVersion,
		// The same root signs twice; distinct keys are required.
		Keys:    fixture.SignedKeySet(t, fixture.RootPairs[0], fixture.RootPairs[0]),
		Release: fixture.SignedRelease(t, widgetRelease()),
	}

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusRootThresholdNotMet {
		t.Fatalf("expected root threshold failure, got %s", verdict.Status)
	}
	if verdict.RootValid != 1 {
		t.Errorf("root quorum count = %d, want 1", verdict.RootValid)
	}
}

func TestRootKeyDoesNotCountTowardReleaseQuorum(t *testing.T) {
	// Working assumption: a key has exactly one role. A root key listed in
	// the release key set (same key material, release role) is excluded
	// from release quorum counting.
	fixture := testutil.NewTrustFixture(t, 1, 1, 0, 1)
	rootPair := fixture.RootPairs[0]

	rootAsRelease := *rootPair.Public()
	rootAsRelease.Role = keys.RoleRelease

	keySet := manifest.KeySet{
		ReleaseKeys:      []*keys.PublicKey{&rootAsRelease},
		ReleaseThreshold: 1,
	}
	signedKeySet, err := manifest.Sign(keySet, rootPair)
	if err != nil {
		t.Fatalf("sign key set: %v", err)
	}
	signedRelease, err := manifest.Sign(widgetRelease(), rootPair)
	if err != nil {
		t.Fatalf("sign release: %v", err)
	}

	doc := &manifest.Document{
		Version: manifest.DocumentVersion,
		Keys:    signedKeySet,
		Release: signedRelease,
	}

	verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
	if verdict.Status != manifest.StatusReleaseThresholdNotMet {
		t.Fatalf("expected release threshold failure, got %s", verdict.Status)
	}
}

func TestEvaluateMalformed(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 1, 1, 1, 1)

	t.Run("wrong_document_version", func(t *testing.T) {
		doc := fixture.Document(t, widgetRelease())
		doc.Version = 99
		verdict := manifest.Evaluate(doc, fixture.Keyring(t), evalTime)
		if verdict.Status != manifest.StatusMalformedManifest {
			t.Errorf("expected malformed verdict, got %s", verdict.Status)
		}
	})

	t.Run("zero_release_threshold", func(t *testing.T) {
		broken := testutil.NewTrustFixture(t, 1, 1, 1, 0)
		doc := broken.Document(t, widgetRelease())
		verdict := manifest.Evaluate(doc, broken.Keyring(t), evalTime)
		if verdict.Status != manifest.StatusMalformedManifest {
			t.Errorf("expected malformed verdict, got %s", verdict.Status)
		}
	})
}

func TestSignedDocumentDigestStable(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 1, 1, 1, 1)
	first := fixture.SignedRelease(t, widgetRelease())
	second := fixture.SignedRelease(t, widgetRelease())

	if first.Digest() != second.Digest() {
		t.Error("digest differs for identical release bodies")
	}

	other := widgetRelease()
	other.Version = "1.0.1"
	changed := fixture.SignedRelease(t, other)
	if changed.Digest() == first.Digest() {
		t.Error("digest identical for different release bodies")
	}
}
