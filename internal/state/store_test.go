package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEntry(product, version string) Entry {
	return Entry{
		Product:        product,
		Version:        version,
		InstallPath:    filepath.Join("/opt", product, version),
		InstalledAt:    time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC),
		ManifestDigest: "abc123",
	}
}

func TestListEmptyRoot(t *testing.T) {
	store := NewStore(t.TempDir())

	entries, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestAddGetRemove(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Add(testEntry("widget", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}

	entry, err := store.Get("widget", "1.0.0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry == nil {
		t.Fatal("entry not found after add")
	}
	if entry.ManifestDigest != "abc123" {
		t.Errorf("unexpected digest %q", entry.ManifestDigest)
	}

	missing, err := store.Get("widget", "2.0.0")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for version that was never installed")
	}

	removed, err := store.Remove("widget", "1.0.0")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("remove reported no entry")
	}

	entry, err = store.Get("widget", "1.0.0")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if entry != nil {
		t.Error("entry still present after remove")
	}
}

func TestAddReplacesExistingEntry(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Add(testEntry("widget", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}

	updated := testEntry("widget", "1.0.0")
	updated.ManifestDigest = "def456"
	if err := store.Add(updated); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
	if entries[0].ManifestDigest != "def456" {
		t.Errorf("entry not replaced, digest %q", entries[0].ManifestDigest)
	}
}

func TestRemoveMissingEntry(t *testing.T) {
	store := NewStore(t.TempDir())

	removed, err := store.Remove("widget", "1.0.0")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed {
		t.Error("remove reported success for missing entry")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	if err := store.Add(testEntry("widget", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary state file left behind after save")
	}
}

func TestStateFileIsWellFormedJSON(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	if err := store.Add(testEntry("widget", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(testEntry("widget", "2.0.0")); err != nil {
		t.Fatalf("add second: %v", err)
	}

	// External status tooling reads this file directly.
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}

	var decoded struct {
		Version   int     `json:"version"`
		Installed []Entry `json:"installed"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	if decoded.Version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", decoded.Version, SchemaVersion)
	}
	if len(decoded.Installed) != 2 {
		t.Errorf("expected 2 entries, got %d", len(decoded.Installed))
	}
}

func TestRejectsUnsupportedSchemaVersion(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte(`{"version": 9, "installed": []}`), 0600); err != nil {
		t.Fatalf("write state file: %v", err)
	}

	store := NewStore(root)
	if _, err := store.List(); err == nil {
		t.Error("expected error for unsupported schema version")
	}
}
