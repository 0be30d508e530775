package db

import (
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const defaultDBName = "taskboard.db"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Config struct {
	Workspace string
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is required for postgres and ignored for sqlite.
	DSN string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".taskboard", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".taskboard")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys on and
// takes the write lock when a transaction begins, so balance updates inside a
// transaction are serialized.
func Open(cfg Config) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", dbPath(cfg.Workspace))
		conn, err := sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn required")
		}
		conn, err := sqlx.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
