package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/skade/criticalup/internal/keys"
)

// ParseError is a config parsing failure with a user-facing message and
// the underlying technical detail.
type ParseError struct {
	Message string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ParseFile loads and parses a Lua config file.
func ParseFile(path string) (*Config, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseString(string(code))
}

// ParseString parses a Lua config from a string. Useful for testing and
// in-memory configs.
func ParseString(luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractConfig(L)
}

// extractConfig reads the global "criticalup" table out of the Lua state.
func extractConfig(L *lua.LState) (*Config, error) {
	top := L.GetGlobal("criticalup")
	if top.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'criticalup' table",
			Detail:  fmt.Sprintf("expected table, got %s", top.Type()),
		}
	}
	table := top.(*lua.LTable)

	cfg := &Config{}

	if server := table.RawGetString("download_server"); server.Type() == lua.LTString {
		cfg.DownloadServer = server.String()
	}
	if cfg.DownloadServer == "" {
		return nil, &ParseError{
			Message: "invalid config",
			Detail:  "download_server is required",
		}
	}

	if root := table.RawGetString("install_root"); root.Type() == lua.LTString {
		cfg.InstallRoot = root.String()
	}
	if cfg.InstallRoot == "" {
		defaultRoot, err := DefaultInstallRoot()
		if err != nil {
			return nil, err
		}
		cfg.InstallRoot = defaultRoot
	}

	trustValue := table.RawGetString("trust")
	if trustValue.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "invalid config",
			Detail:  "trust table is required",
		}
	}

	trust, err := extractTrust(trustValue.(*lua.LTable))
	if err != nil {
		return nil, err
	}
	cfg.Trust = *trust

	return cfg, nil
}

func extractTrust(table *lua.LTable) (*TrustConfig, error) {
	trust := &TrustConfig{RootThreshold: 1}

	if threshold := table.RawGetString("root_threshold"); threshold.Type() == lua.LTNumber {
		trust.RootThreshold = int(lua.LVAsNumber(threshold))
	}
	if trust.RootThreshold < 1 {
		return nil, &ParseError{
			Message: "invalid trust config",
			Detail:  fmt.Sprintf("root_threshold must be at least 1, got %d", trust.RootThreshold),
		}
	}

	rootsValue := table.RawGetString("roots")
	if rootsValue.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "invalid trust config",
			Detail:  "trust.roots is required",
		}
	}

	var extractErr error
	rootsValue.(*lua.LTable).ForEach(func(_, value lua.LValue) {
		if extractErr != nil {
			return
		}
		if value.Type() != lua.LTTable {
			extractErr = &ParseError{
				Message: "invalid trust config",
				Detail:  fmt.Sprintf("trust.roots entries must be tables, got %s", value.Type()),
			}
			return
		}

		key, err := extractKey(value.(*lua.LTable))
		if err != nil {
			extractErr = err
			return
		}
		trust.Roots = append(trust.Roots, key)
	})
	if extractErr != nil {
		return nil, extractErr
	}
	if len(trust.Roots) == 0 {
		return nil, &ParseError{
			Message: "invalid trust config",
			Detail:  "trust.roots must list at least one key",
		}
	}

	if revokedValue := table.RawGetString("revoked"); revokedValue.Type() == lua.LTTable {
		revokedValue.(*lua.LTable).ForEach(func(_, value lua.LValue) {
			if value.Type() == lua.LTString {
				trust.Revoked = append(trust.Revoked, keys.KeyID(value.String()))
			}
		})
	}

	if keyring := table.RawGetString("artifact_keyring"); keyring.Type() == lua.LTString {
		trust.ArtifactKeyring = keyring.String()
	}

	return trust, nil
}

// extractKey decodes one root key table: algorithm, base64 public key
// material, and an optional RFC3339 expiry.
func extractKey(table *lua.LTable) (*keys.PublicKey, error) {
	algorithm := table.RawGetString("algorithm")
	public := table.RawGetString("public")
	if algorithm.Type() != lua.LTString || public.Type() != lua.LTString {
		return nil, &ParseError{
			Message: "invalid root key",
			Detail:  "each key needs 'algorithm' and 'public' strings",
		}
	}

	der, err := base64.StdEncoding.DecodeString(public.String())
	if err != nil {
		return nil, &ParseError{
			Message: "invalid root key",
			Detail:  fmt.Sprintf("public key is not valid base64: %v", err),
		}
	}

	key := &keys.PublicKey{
		Role:      keys.RoleRoot,
		Algorithm: keys.Algorithm(algorithm.String()),
		Public:    der,
	}

	if expiry := table.RawGetString("expiry"); expiry.Type() == lua.LTString {
		parsed, err := time.Parse(time.RFC3339, expiry.String())
		if err != nil {
			return nil, &ParseError{
				Message: "invalid root key",
				Detail:  fmt.Sprintf("expiry is not RFC3339: %v", err),
			}
		}
		key.Expiry = &parsed
	}

	return key, nil
}
