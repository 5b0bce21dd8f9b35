package install

import (
	"errors"
	"fmt"

	"github.com/skade/criticalup/internal/manifest"
)

var (
	// ErrNotInstalled means a remove targeted a version that has no
	// committed entry.
	ErrNotInstalled = errors.New("not installed")

	// ErrBinaryNotInstalled means no committed installation provides the
	// requested binary.
	ErrBinaryNotInstalled = errors.New("binary not installed")
)

// TrustError is returned when manifest evaluation produced anything other
// than a trusted verdict. Trust failures are never downgraded to warnings:
// nothing is downloaded for an untrusted manifest.
type TrustError struct {
	Verdict manifest.Verdict
}

func (e *TrustError) Error() string {
	v := e.Verdict
	switch v.Status {
	case manifest.StatusRootThresholdNotMet:
		return fmt.Sprintf("manifest rejected: %s (%d of %d required root signatures)",
			v.Status, v.RootValid, v.RootRequired)
	case manifest.StatusReleaseThresholdNotMet:
		return fmt.Sprintf("manifest rejected: %s (%d of %d required release signatures)",
			v.Status, v.ReleaseValid, v.ReleaseRequired)
	case manifest.StatusMalformedManifest:
		return fmt.Sprintf("manifest rejected: %s: %s", v.Status, v.Detail)
	default:
		return fmt.Sprintf("manifest rejected: %s", v.Status)
	}
}

// ChecksumError is returned when a downloaded artifact does not match the
// manifest's declared digest or size. It is never retried: a mismatch
// means corruption or tampering, and a silent retry would mask both.
type ChecksumError struct {
	Artifact string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s",
		e.Artifact, e.Expected, e.Actual)
}

// SizeError is returned when a downloaded artifact has the wrong length.
type SizeError struct {
	Artifact string
	Expected int64
	Actual   int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d",
		e.Artifact, e.Expected, e.Actual)
}

// DownloadError is returned when an artifact could not be fetched after
// the retry policy was exhausted.
type DownloadError struct {
	Artifact string
	URL      string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for %s from %s: %v", e.Artifact, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
