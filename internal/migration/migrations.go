package migration

import (
	"fmt"
	"os"
	"path/filepath"
)

// RegisterDefaultMigrations registers the built-in migration steps on the
// given migrator.
func RegisterDefaultMigrations(m *Migrator) {
	m.Register(Migration{
		Version:     1,
		Description: "Move node key under keys/",
		Up: func(dataDir string) error {
			// Early releases kept the key file flat in the data dir.
			oldPath := filepath.Join(dataDir, "node.key")
			newPath := filepath.Join(dataDir, "keys", "node.key")

			if _, err := os.Stat(oldPath); os.IsNotExist(err) {
				return nil
			}
			if _, err := os.Stat(newPath); err == nil {
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(newPath), 0o700); err != nil {
				return fmt.Errorf("create keys directory: %w", err)
			}
			if err := os.Rename(oldPath, newPath); err != nil {
				return fmt.Errorf("move node key: %w", err)
			}
			return nil
		},
	})

	m.Register(Migration{
		Version:     2,
		Description: "Rename tor-data to tor",
		Up: func(dataDir string) error {
			oldPath := filepath.Join(dataDir, "tor-data")
			newPath := filepath.Join(dataDir, "tor")

			if _, err := os.Stat(oldPath); os.IsNotExist(err) {
				return nil
			}
			if _, err := os.Stat(newPath); err == nil {
				return nil
			}
			if err := os.Rename(oldPath, newPath); err != nil {
				return fmt.Errorf("move tor state: %w", err)
			}
			return nil
		},
	})
}
