// Package config loads the criticalup configuration from a declarative Lua
// file. The config is evaluated in a sandboxed VM: it can compute values
// with strings, tables and math, but it cannot touch the filesystem, the
// network, or spawn processes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skade/criticalup/internal/keys"
)

// DefaultFileName is the config file name inside the config directory.
const DefaultFileName = "criticalup.lua"

// Config is the parsed configuration. It is constructed once per
// invocation and passed explicitly to the components that need it; there
// is no global config state.
type Config struct {
	// DownloadServer is the base URL manifests and artifacts are fetched
	// from.
	DownloadServer string

	// InstallRoot is where products are installed and where the state and
	// lock files live.
	InstallRoot string

	// Trust is the trust root used to evaluate release manifests.
	Trust TrustConfig
}

// TrustConfig is the configured trust root.
type TrustConfig struct {
	// RootThreshold is the minimum number of distinct valid root
	// signatures required to authorize a release key set.
	RootThreshold int

	// Roots are the trusted root public keys.
	Roots []*keys.PublicKey

	// Revoked seeds the revocation list before any manifest is seen.
	Revoked []keys.KeyID

	// ArtifactKeyring optionally points at an OpenPGP keyring used to
	// check detached artifact signatures declared by manifests.
	ArtifactKeyring string
}

// Keyring builds a fresh keyring from the configured trust root. Each
// invocation gets its own keyring because evaluation accumulates
// revocations into it.
func (c *Config) Keyring() (*keys.Keyring, error) {
	return keys.NewKeyring(c.Trust.Roots, c.Trust.RootThreshold, c.Trust.Revoked)
}

// DefaultPath returns the default config file location, honoring the
// CRITICALUP_CONFIG override.
func DefaultPath() (string, error) {
	if override := os.Getenv("CRITICALUP_CONFIG"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "criticalup", DefaultFileName), nil
}

// DefaultInstallRoot returns the install root used when the config does
// not set one.
func DefaultInstallRoot() (string, error) {
	if override := os.Getenv("CRITICALUP_ROOT"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "criticalup"), nil
}
