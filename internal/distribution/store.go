package distribution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	stateFileName = "state.json"
	packagesDir   = "packages"
	tmpDir        = "tmp"
)

// PackageInfo describes a package known to the store
type PackageInfo struct {
	Label       string    `json:"label" yaml:"label"`
	Hash        string    `json:"package_hash" yaml:"package_hash"`
	AppVersion  string    `json:"app_version" yaml:"app_version"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Mandatory   bool      `json:"is_mandatory,omitempty" yaml:"is_mandatory,omitempty"`
	Size        int64     `json:"package_size,omitempty" yaml:"package_size,omitempty"`
	InstalledAt time.Time `json:"installed_at,omitempty" yaml:"installed_at,omitempty"`
}

// State is the persisted install state of the app
type State struct {
	ClientID  string       `json:"client_id" yaml:"client_id"`
	Current   *PackageInfo `json:"current,omitempty" yaml:"current,omitempty"`
	Previous  *PackageInfo `json:"previous,omitempty" yaml:"previous,omitempty"`
	Pending   *PackageInfo `json:"pending,omitempty" yaml:"pending,omitempty"`
	Confirmed bool         `json:"confirmed" yaml:"confirmed"`
	Boots     int          `json:"boots" yaml:"boots"`                                     // Starts of an unconfirmed current package
	Reported  string       `json:"reported,omitempty" yaml:"reported,omitempty"`           // Hash of the last reported deploy
	Failed    []string     `json:"failed_hashes,omitempty" yaml:"failed_hashes,omitempty"` // Hashes rolled back after failing to boot
}

// Store keeps downloaded packages and install state in a directory.
//
// Layout:
//
//	<dir>/state.json
//	<dir>/packages/<hash>.pkg
//	<dir>/tmp/
type Store struct {
	dir   string
	mu    sync.Mutex
	state State

	staged string // Hash promoted by this process that is not running yet
}

// OpenStore opens or initializes a store in dir
func OpenStore(dir string) (*Store, error) {
	for _, sub := range []string{packagesDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	s := &Store{dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}

	if s.state.ClientID == "" {
		s.state.ClientID = uuid.NewString()
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Dir returns the store's root directory
func (s *Store) Dir() string {
	return s.dir
}

// State returns a copy of the current state
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Current = clonePackage(s.state.Current)
	st.Previous = clonePackage(s.state.Previous)
	st.Pending = clonePackage(s.state.Pending)
	st.Failed = slices.Clone(s.state.Failed)
	return st
}

// PackagePath returns where the package with the given hash is stored
func (s *Store) PackagePath(hash string) string {
	return filepath.Join(s.dir, packagesDir, hash+".pkg")
}

// Has reports whether the package content is already on disk
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.PackagePath(hash))
	return err == nil
}

// CreateTemp creates a temporary file inside the store
func (s *Store) CreateTemp() (*os.File, error) {
	return os.CreateTemp(filepath.Join(s.dir, tmpDir), "download-*")
}

// Add moves a downloaded file into the store
func (s *Store) Add(hash, src string) error {
	if err := os.Rename(src, s.PackagePath(hash)); err != nil {
		return fmt.Errorf("failed to store package: %w", err)
	}
	return nil
}

// Promote makes info the current package. The old current package is kept
// as Previous so it can be restored by Rollback.
//
// The process that promotes a package keeps running the old one until it
// restarts, so Confirm leaves info unconfirmed in this Store.
func (s *Store) Promote(info PackageInfo) error {
	return s.promote(info, false)
}

// Activate promotes info and marks it as the package this process now runs,
// as happens when a pending package is applied on resume.
func (s *Store) Activate(info PackageInfo) error {
	return s.promote(info, true)
}

func (s *Store) promote(info PackageInfo, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Has(info.Hash) {
		return fmt.Errorf("package %s not downloaded", info.Label)
	}

	info.InstalledAt = time.Now().UTC()
	if s.state.Current != nil && s.state.Current.Hash != info.Hash {
		old := s.state.Previous
		if old != nil && old.Hash != info.Hash && !s.inUse(old.Hash) {
			s.removeBlob(old.Hash)
		}
		s.state.Previous = s.state.Current
	}
	s.state.Current = &info
	s.state.Confirmed = false
	s.state.Boots = 0
	if s.state.Pending != nil && s.state.Pending.Hash == info.Hash {
		s.state.Pending = nil
	}
	s.staged = ""
	if !running {
		s.staged = info.Hash
	}

	return s.save()
}

// SetPending records info to be promoted on the next resume
func (s *Store) SetPending(info PackageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Has(info.Hash) {
		return fmt.Errorf("package %s not downloaded", info.Label)
	}

	if old := s.state.Pending; old != nil && old.Hash != info.Hash {
		if s.state.Current == nil || s.state.Current.Hash != old.Hash {
			s.removeBlob(old.Hash)
		}
	}
	s.state.Pending = &info

	return s.save()
}

// TakePending clears and returns the pending package, or nil
func (s *Store) TakePending() (*PackageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.state.Pending
	if pending == nil {
		return nil, nil
	}
	s.state.Pending = nil
	if err := s.save(); err != nil {
		return nil, err
	}
	return pending, nil
}

// MarkBooted counts a start of an unconfirmed current package
func (s *Store) MarkBooted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Current == nil || s.state.Confirmed {
		return nil
	}
	s.state.Boots++
	return s.save()
}

// Confirm marks the current package healthy and drops the rollback copy.
// It returns the previous package, which is nil if there was none.
//
// A package promoted by this Store has not started yet. Confirm then changes
// nothing and returns nil, leaving the package to confirm itself after it
// boots.
func (s *Store) Confirm() (*PackageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Current != nil && s.state.Current.Hash == s.staged {
		return nil, nil
	}

	previous := s.state.Previous
	s.state.Confirmed = true
	s.state.Boots = 0
	if previous != nil {
		if !s.inUse(previous.Hash) {
			s.removeBlob(previous.Hash)
		}
		s.state.Previous = nil
	}

	if err := s.save(); err != nil {
		return nil, err
	}
	return previous, nil
}

// MarkReported records that the deploy of hash was reported
func (s *Store) MarkReported(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Reported = hash
	return s.save()
}

// Rollback restores the previous package and blocks the failed one from
// being offered again. It returns the package that failed.
func (s *Store) Rollback() (*PackageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := s.state.Current
	if failed == nil {
		return nil, fmt.Errorf("no package to roll back")
	}

	s.state.Current = s.state.Previous
	s.state.Previous = nil
	s.staged = ""
	s.state.Confirmed = true
	s.state.Boots = 0
	if !slices.Contains(s.state.Failed, failed.Hash) {
		s.state.Failed = append(s.state.Failed, failed.Hash)
	}
	s.removeBlob(failed.Hash)

	if err := s.save(); err != nil {
		return nil, err
	}
	return failed, nil
}

// IsFailed reports whether hash was rolled back before
func (s *Store) IsFailed(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.state.Failed, hash)
}

// inUse reports whether hash is referenced by current or pending. Callers hold mu.
func (s *Store) inUse(hash string) bool {
	if s.state.Current != nil && s.state.Current.Hash == hash {
		return true
	}
	return s.state.Pending != nil && s.state.Pending.Hash == hash
}

func (s *Store) removeBlob(hash string) {
	_ = os.Remove(s.PackagePath(hash))
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

// load reads the state from disk. A missing file leaves the zero state.
func (s *Store) load() error {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	return nil
}

// save atomically writes the state to disk. Callers hold mu, except OpenStore.
func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.state, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	path := s.statePath()
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

func clonePackage(p *PackageInfo) *PackageInfo {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
