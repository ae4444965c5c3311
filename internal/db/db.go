package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dirName = ".blockline"
	dbName  = "blockline.db"
)

type Config struct {
	Workspace string
	// BusyTimeout is in milliseconds. Zero means 5000.
	BusyTimeout int
}

// Path returns the database file inside the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName, dbName)
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, dirName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// DSN builds the sqlite connection string. Transactions take the write lock
// at BEGIN so that concurrent batches serialise instead of failing on upgrade.
func DSN(path string, busyTimeout int) string {
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}
	return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout)
}

// Open opens the workspace database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(Path(cfg.Workspace), cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	return conn, nil
}
