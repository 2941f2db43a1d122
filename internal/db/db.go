// Package db opens the execution journal database and applies its schema.
package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
)

//go:embed migrations
var migrations embed.FS

// Dialect identifies the journal backend selected by a database URL.
type Dialect string

const (
	DialectMemory   Dialect = "memory"
	DialectPostgres Dialect = "postgres"
	DialectSqlite   Dialect = "sqlite"
)

// ParseURL returns the dialect of databaseURL and, for SQLite, the file path.
// An empty URL selects the in-memory journal.
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case databaseURL == "":
		return DialectMemory, "", nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSqlite, strings.TrimPrefix(databaseURL, "sqlite://"), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return DialectSqlite, strings.TrimPrefix(databaseURL, "sqlite:"), nil
	}
	return "", "", fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
