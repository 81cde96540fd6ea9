package persist

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite keeps state in a single table of a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. path may be ":memory:".
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite: %w", err)
	}
	// one writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: configure sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("persist: load migrations: %w", err)
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("persist: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("persist: migrate: %w", err)
	}
	// m.Close would close db as well; only the source needs releasing.
	defer src.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("persist: migrate up: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, namespace string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM state WHERE namespace = ?`, namespace).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: load %s: %w", namespace, err)
	}
	return data, nil
}

func (s *SQLite) Save(ctx context.Context, namespace string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO state (namespace, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(namespace) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		namespace, data)
	if err != nil {
		return fmt.Errorf("persist: save %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("persist: delete %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
