// Package state persists the record of installed products. The state file
// is only ever replaced whole, by writing a temporary file and renaming it
// over the previous one, so a reader always observes a complete snapshot.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion is the installed-state file schema version.
const SchemaVersion = 1

// FileName is the name of the state file under the install root.
const FileName = "installed.json"

// Entry records one fully committed installation. An entry exists if and
// only if that exact version completed every pipeline stage.
type Entry struct {
	Product        string    `json:"product"`
	Version        string    `json:"version"`
	InstallPath    string    `json:"install_path"`
	InstalledAt    time.Time `json:"installed_at"`
	ManifestDigest string    `json:"manifest_digest"`
}

type stateFile struct {
	Version   int     `json:"version"`
	Installed []Entry `json:"installed"`
}

// Store reads and writes the installed-state file. Mutating calls must only
// happen while holding the installation lock; reads are safe without it
// because of the replace-on-write discipline.
type Store struct {
	path string
}

// NewStore creates a store rooted at the given install root directory.
func NewStore(root string) *Store {
	return &Store{path: filepath.Join(root, FileName)}
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return s.path
}

// List returns all committed entries. A missing state file is an empty
// installation, not an error.
func (s *Store) List() ([]Entry, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	return file.Installed, nil
}

// Get returns the entry for (product, version), or nil when absent.
func (s *Store) Get(product, version string) (*Entry, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range file.Installed {
		entry := &file.Installed[i]
		if entry.Product == product && entry.Version == version {
			return entry, nil
		}
	}
	return nil, nil
}

// Add inserts or replaces the entry for (product, version) and persists
// the file atomically.
func (s *Store) Add(entry Entry) error {
	file, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range file.Installed {
		if file.Installed[i].Product == entry.Product && file.Installed[i].Version == entry.Version {
			file.Installed[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		file.Installed = append(file.Installed, entry)
	}

	return s.save(file)
}

// Remove deletes the entry for (product, version). It reports whether an
// entry existed.
func (s *Store) Remove(product, version string) (bool, error) {
	file, err := s.load()
	if err != nil {
		return false, err
	}

	kept := file.Installed[:0]
	removed := false
	for _, entry := range file.Installed {
		if entry.Product == product && entry.Version == version {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	if !removed {
		return false, nil
	}

	file.Installed = kept
	return true, s.save(file)
}

func (s *Store) load() (*stateFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &stateFile{Version: SchemaVersion}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal state file: %w", err)
	}
	if file.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported state file version %d", file.Version)
	}

	return &file, nil
}

// save writes the state with write-then-rename so a crash mid-write never
// leaves a half-written file behind.
func (s *Store) save(file *stateFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync state directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}
