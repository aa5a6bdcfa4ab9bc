// Package migration brings the daemon's data directory up to the
// current on-disk layout before anything opens files in it. Steps are
// versioned, applied once, and recorded in the data directory itself.
package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// stateFileName is the ledger of applied steps, kept inside the data
// directory it describes.
const stateFileName = "migrations.json"

// Migration is a single versioned layout change.
type Migration struct {
	Version     int
	Description string
	Up          func(dataDir string) error
}

// appliedRecord is one ledger entry.
type appliedRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// Migrator orders and executes migrations against one data directory.
type Migrator struct {
	mu         sync.Mutex
	dataDir    string
	migrations []Migration
	applied    map[int]time.Time
}

// NewMigrator creates a Migrator for the given data directory.
func NewMigrator(dataDir string) *Migrator {
	return &Migrator{
		dataDir: dataDir,
		applied: make(map[int]time.Time),
	}
}

// Register adds a migration. Steps run in version order regardless of
// registration order.
func (m *Migrator) Register(migration Migration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations = append(m.migrations, migration)
}

func (m *Migrator) statePath() string {
	return filepath.Join(m.dataDir, stateFileName)
}

// LoadApplied reads the ledger from disk. A missing ledger means a
// fresh data directory, not an error.
func (m *Migrator) LoadApplied() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read migration ledger: %w", err)
	}

	var records []appliedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse migration ledger: %w", err)
	}

	m.applied = make(map[int]time.Time, len(records))
	for _, r := range records {
		m.applied[r.Version] = r.AppliedAt
	}
	return nil
}

// SaveApplied persists the ledger.
func (m *Migrator) SaveApplied() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAppliedLocked()
}

// saveAppliedLocked writes the ledger atomically; caller holds m.mu.
func (m *Migrator) saveAppliedLocked() error {
	records := make([]appliedRecord, 0, len(m.applied))
	for v, t := range m.applied {
		records = append(records, appliedRecord{Version: v, AppliedAt: t})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal migration ledger: %w", err)
	}

	if err := os.MkdirAll(m.dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write-to-temp-then-rename so a crash never truncates the ledger.
	tmp := m.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write migration ledger: %w", err)
	}
	if err := os.Rename(tmp, m.statePath()); err != nil {
		return fmt.Errorf("rename migration ledger: %w", err)
	}
	return nil
}

// Pending returns unapplied migrations in version order.
func (m *Migrator) Pending() []Migration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []Migration
	for _, mig := range m.migrations {
		if _, done := m.applied[mig.Version]; !done {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})
	return pending
}

// Run applies every pending migration, persisting the ledger after
// each step so a crash mid-run never re-applies a completed step.
func (m *Migrator) Run() error {
	for _, mig := range m.Pending() {
		if err := mig.Up(m.dataDir); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", mig.Version, mig.Description, err)
		}

		m.mu.Lock()
		m.applied[mig.Version] = time.Now()
		if err := m.saveAppliedLocked(); err != nil {
			// Keep memory consistent with disk.
			delete(m.applied, mig.Version)
			m.mu.Unlock()
			return fmt.Errorf("save after migration v%d: %w", mig.Version, err)
		}
		m.mu.Unlock()
	}
	return nil
}

// CurrentVersion reports the highest applied version, 0 when none.
func (m *Migrator) CurrentVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := 0
	for v := range m.applied {
		if v > current {
			current = v
		}
	}
	return current
}
