// Package install drives the download-verify-extract-commit pipeline. It
// only acts on manifests the trust evaluator accepted, and it commits an
// installation with a single filesystem rename so a crash at any point
// leaves either a complete install or none at all.
package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skade/criticalup/internal/config"
	"github.com/skade/criticalup/internal/download"
	"github.com/skade/criticalup/internal/lock"
	"github.com/skade/criticalup/internal/manifest"
	"github.com/skade/criticalup/internal/state"
)

const (
	// StagingDirName is the directory under the install root where
	// releases are extracted before the atomic commit.
	StagingDirName = ".staging"

	// DefaultConcurrentDownloads bounds the artifact download pool.
	DefaultConcurrentDownloads = 4

	// DefaultLockWait bounds how long an invocation waits for the
	// installation lock before giving up with ErrLockBusy.
	DefaultLockWait = 10 * time.Second
)

// Manager orchestrates manifest verification and installation. All
// state-mutating operations serialize on the installation lock; reads do
// not need it.
type Manager struct {
	cfg      *config.Config
	client   *download.Client
	store    *state.Store
	clock    Clock
	log      Logger
	alive    lock.ProcessAlive
	lockWait time.Duration
	step     Step
}

// Params configures a Manager. Only Config is required.
type Params struct {
	Config *config.Config

	// Client overrides the download client built from the config.
	Client *download.Client

	// Clock overrides the system clock.
	Clock Clock

	// Logger receives pipeline progress. Defaults to a no-op logger.
	Logger Logger

	// Alive overrides the lock liveness probe.
	Alive lock.ProcessAlive

	// LockWait bounds lock acquisition. Defaults to DefaultLockWait.
	LockWait time.Duration
}

// NewManager creates an installation manager.
func NewManager(p Params) (*Manager, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if p.Config.InstallRoot == "" {
		return nil, fmt.Errorf("install root is required")
	}

	m := &Manager{
		cfg:      p.Config,
		client:   p.Client,
		store:    state.NewStore(p.Config.InstallRoot),
		clock:    p.Clock,
		log:      p.Logger,
		alive:    p.Alive,
		lockWait: p.LockWait,
	}
	if m.client == nil {
		m.client = download.NewClient(p.Config.DownloadServer)
	}
	if m.clock == nil {
		m.clock = RealClock{}
	}
	if m.log == nil {
		m.log = noopLogger{}
	}
	if m.lockWait <= 0 {
		m.lockWait = DefaultLockWait
	}

	return m, nil
}

// Options configures a single install.
type Options struct {
	// Force reinstalls even when the same version with the same manifest
	// digest is already committed.
	Force bool

	// ConcurrentDownloads bounds the artifact download pool. Defaults to
	// DefaultConcurrentDownloads.
	ConcurrentDownloads int
}

// Result describes a completed install.
type Result struct {
	Product        string
	Version        string
	InstallPath    string
	ManifestDigest string

	// AlreadyInstalled is set when the install short-circuited because
	// the exact version was already committed.
	AlreadyInstalled bool

	Duration time.Duration
}

// Step returns the last pipeline step the manager reached.
func (m *Manager) Step() Step {
	return m.step
}

func (m *Manager) setStep(step Step) {
	m.step = step
	m.log.Debug("pipeline step", "step", step.String())
}

func (m *Manager) fail(err error) error {
	m.step = StepFailed
	m.log.Error("install failed", "error", err)
	return err
}

// Install downloads, verifies and commits a product version. Nothing is
// downloaded unless the manifest passes trust evaluation, and the state
// store gains an entry only after every artifact verified and the staged
// tree was moved into place.
func (m *Manager) Install(ctx context.Context, product, version string, opts Options) (*Result, error) {
	start := m.clock.Now()
	m.setStep(StepIdle)

	guard, err := lock.Acquire(ctx, m.cfg.InstallRoot, lock.Options{
		Wait:  m.lockWait,
		Alive: m.alive,
	})
	if err != nil {
		return nil, m.fail(err)
	}
	defer guard.Release()

	m.sweepStaging()

	m.setStep(StepFetchingManifest)
	doc, err := m.client.FetchManifest(ctx, product, version)
	if err != nil {
		return nil, m.fail(fmt.Errorf("fetch manifest for %s %s: %w", product, version, err))
	}

	m.setStep(StepVerifyingManifest)
	ring, err := m.cfg.Keyring()
	if err != nil {
		return nil, m.fail(fmt.Errorf("build keyring: %w", err))
	}
	verdict := manifest.Evaluate(doc, ring, m.clock.Now())
	if !verdict.Trusted() {
		return nil, m.fail(&TrustError{Verdict: verdict})
	}
	release := verdict.Manifest
	if release.Product != product || release.Version != version {
		return nil, m.fail(fmt.Errorf("manifest is for %s %s, requested %s %s",
			release.Product, release.Version, product, version))
	}
	m.log.Info("manifest trusted",
		"product", product, "version", version, "digest", verdict.Digest)

	m.setStep(StepResolvingArtifacts)
	existing, err := m.store.Get(product, version)
	if err != nil {
		return nil, m.fail(err)
	}
	if existing != nil && existing.ManifestDigest == verdict.Digest && !opts.Force {
		m.setStep(StepDone)
		return &Result{
			Product:          product,
			Version:          version,
			InstallPath:      existing.InstallPath,
			ManifestDigest:   existing.ManifestDigest,
			AlreadyInstalled: true,
			Duration:         m.clock.Now().Sub(start),
		}, nil
	}
	if len(release.Artifacts) == 0 {
		return nil, m.fail(fmt.Errorf("manifest for %s %s lists no artifacts", product, version))
	}
	for _, artifact := range release.Artifacts {
		if !validArtifactName(artifact.Name) {
			return nil, m.fail(fmt.Errorf("illegal artifact name %q", artifact.Name))
		}
	}

	stagingDir := filepath.Join(m.cfg.InstallRoot, StagingDirName, uuid.New().String())
	downloadsDir := filepath.Join(stagingDir, "downloads")
	filesDir := filepath.Join(stagingDir, "files")
	defer os.RemoveAll(stagingDir)

	m.setStep(StepDownloading)
	if err := m.downloadArtifacts(ctx, release.Artifacts, downloadsDir, opts.ConcurrentDownloads); err != nil {
		return nil, m.fail(err)
	}

	m.setStep(StepVerifyingArtifacts)
	for _, artifact := range release.Artifacts {
		if err := m.verifyArtifact(filepath.Join(downloadsDir, artifact.Name), artifact); err != nil {
			return nil, m.fail(err)
		}
	}

	m.setStep(StepStaging)
	if err := os.MkdirAll(filesDir, 0755); err != nil {
		return nil, m.fail(fmt.Errorf("create staging dir: %w", err))
	}
	for _, artifact := range release.Artifacts {
		path := filepath.Join(downloadsDir, artifact.Name)
		if isArchive(artifact.Name) {
			err = extractTarGz(path, filesDir)
		} else {
			err = copyFile(path, filesDir, artifact.Name)
		}
		if err != nil {
			return nil, m.fail(fmt.Errorf("stage %s: %w", artifact.Name, err))
		}
	}

	// Last cancellation point: past here the only safe interruption
	// window is the atomic rename itself.
	if err := ctx.Err(); err != nil {
		return nil, m.fail(err)
	}

	m.setStep(StepCommitting)
	finalPath := filepath.Join(m.cfg.InstallRoot, product, version)
	if err := m.commit(product, version, filesDir, finalPath, existing); err != nil {
		return nil, m.fail(err)
	}

	entry := state.Entry{
		Product:        product,
		Version:        version,
		InstallPath:    finalPath,
		InstalledAt:    m.clock.Now().UTC(),
		ManifestDigest: verdict.Digest,
	}
	if err := m.store.Add(entry); err != nil {
		return nil, m.fail(fmt.Errorf("record installation: %w", err))
	}

	m.setStep(StepDone)
	m.log.Info("installed", "product", product, "version", version, "path", finalPath)
	return &Result{
		Product:        product,
		Version:        version,
		InstallPath:    finalPath,
		ManifestDigest: verdict.Digest,
		Duration:       m.clock.Now().Sub(start),
	}, nil
}

// commit moves the staged tree into its final location. When replacing an
// existing install, the state entry is dropped before the old tree is
// removed, so "an entry exists" always implies "the install is complete".
func (m *Manager) commit(product, version, stagedDir, finalPath string, existing *state.Entry) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("create product dir: %w", err)
	}

	if _, err := os.Stat(finalPath); err == nil {
		if existing != nil {
			if _, err := m.store.Remove(product, version); err != nil {
				return fmt.Errorf("drop stale state entry: %w", err)
			}
		}
		if err := os.RemoveAll(finalPath); err != nil {
			return fmt.Errorf("remove previous install: %w", err)
		}
	}

	if err := os.Rename(stagedDir, finalPath); err != nil {
		return fmt.Errorf("commit install: %w", err)
	}
	return nil
}

func (m *Manager) downloadArtifacts(ctx context.Context, artifacts []manifest.Artifact, destDir string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrentDownloads
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, artifact := range artifacts {
		artifact := artifact
		group.Go(func() error {
			dest := filepath.Join(destDir, artifact.Name)
			m.log.Debug("downloading artifact", "name", artifact.Name, "url", artifact.URL)
			if err := m.client.DownloadFile(groupCtx, artifact.URL, dest); err != nil {
				return &DownloadError{Artifact: artifact.Name, URL: artifact.URL, Err: err}
			}

			if artifact.SignatureURL != "" && m.cfg.Trust.ArtifactKeyring != "" {
				if err := m.client.DownloadFile(groupCtx, artifact.SignatureURL, dest+".sig"); err != nil {
					return &DownloadError{Artifact: artifact.Name + " signature", URL: artifact.SignatureURL, Err: err}
				}
			}
			return nil
		})
	}

	// All-or-nothing join: no artifact advances to verification until
	// every download finished.
	return group.Wait()
}

// verifyArtifact recomputes the artifact's content hash and size against
// the manifest's declarations, plus the optional detached signature.
func (m *Manager) verifyArtifact(path string, artifact manifest.Artifact) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open downloaded artifact %s: %w", artifact.Name, err)
	}
	defer file.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return fmt.Errorf("hash artifact %s: %w", artifact.Name, err)
	}

	if size != artifact.Size {
		return &SizeError{Artifact: artifact.Name, Expected: artifact.Size, Actual: size}
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, artifact.SHA256) {
		return &ChecksumError{Artifact: artifact.Name, Expected: artifact.SHA256, Actual: actual}
	}

	if artifact.SignatureURL != "" {
		if m.cfg.Trust.ArtifactKeyring == "" {
			m.log.Warn("artifact declares a signature but no artifact keyring is configured",
				"name", artifact.Name)
		} else if err := verifyDetachedSignature(m.cfg.Trust.ArtifactKeyring, path, path+".sig"); err != nil {
			return fmt.Errorf("artifact %s: %w", artifact.Name, err)
		}
	}

	return nil
}

// Remove deletes a committed installation. The state entry goes first:
// a crash mid-removal leaves extra files on disk but never an entry that
// points at a missing install.
func (m *Manager) Remove(ctx context.Context, product, version string) error {
	guard, err := lock.Acquire(ctx, m.cfg.InstallRoot, lock.Options{
		Wait:  m.lockWait,
		Alive: m.alive,
	})
	if err != nil {
		return err
	}
	defer guard.Release()

	entry, err := m.store.Get(product, version)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %s %s", ErrNotInstalled, product, version)
	}

	if _, err := m.store.Remove(product, version); err != nil {
		return fmt.Errorf("remove state entry: %w", err)
	}
	if err := os.RemoveAll(entry.InstallPath); err != nil {
		return fmt.Errorf("remove install path: %w", err)
	}

	// Drop the product dir if this was its last version.
	os.Remove(filepath.Dir(entry.InstallPath))

	m.log.Info("removed", "product", product, "version", version)
	return nil
}

// List returns all committed installations. It takes no lock: the state
// store's replace-on-write discipline guarantees a consistent snapshot.
func (m *Manager) List() ([]state.Entry, error) {
	return m.store.List()
}

// FindBinary resolves a binary by name across committed installations,
// searching each install tree's root and its bin directory, most recent
// entry first. Like List it takes no lock.
func (m *Manager) FindBinary(name string) (string, error) {
	if !validArtifactName(name) {
		return "", fmt.Errorf("%w: illegal binary name %q", ErrBinaryNotInstalled, name)
	}

	entries, err := m.store.List()
	if err != nil {
		return "", err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		candidates := []string{
			filepath.Join(entries[i].InstallPath, name),
			filepath.Join(entries[i].InstallPath, "bin", name),
		}
		for _, candidate := range candidates {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrBinaryNotInstalled, name)
}

// VerifyManifest runs trust evaluation on a manifest document without
// installing anything.
func (m *Manager) VerifyManifest(doc *manifest.Document) (manifest.Verdict, error) {
	ring, err := m.cfg.Keyring()
	if err != nil {
		return manifest.Verdict{}, fmt.Errorf("build keyring: %w", err)
	}
	return manifest.Evaluate(doc, ring, m.clock.Now()), nil
}

// sweepStaging removes staging directories left behind by interrupted
// runs. It only runs while holding the lock, so anything under the
// staging root is an orphan.
func (m *Manager) sweepStaging() {
	stagingRoot := filepath.Join(m.cfg.InstallRoot, StagingDirName)
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		return
	}

	for _, entry := range entries {
		orphan := filepath.Join(stagingRoot, entry.Name())
		if err := os.RemoveAll(orphan); err != nil {
			m.log.Warn("failed to remove orphaned staging dir", "path", orphan, "error", err)
		} else {
			m.log.Debug("removed orphaned staging dir", "path", orphan)
		}
	}
}

// validArtifactName rejects names that could escape the staging area.
func validArtifactName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}
