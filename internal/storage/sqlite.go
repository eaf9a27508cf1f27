package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"geninst/internal/dispatch"
	"geninst/internal/log"
	"geninst/internal/registry"
	"geninst/internal/relay"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies the embedded migrations. The migrate instance is not
// closed because that would close the shared *sql.DB.
func (s *SQLiteStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// --- Registry snapshot ---

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*registry.Snapshot, error) {
	keys, err := loadSequence[registry.Definition](ctx, s.db, "SELECT definition FROM registry_keys ORDER BY pos")
	if err != nil {
		return nil, fmt.Errorf("load registry keys: %w", err)
	}
	values, err := loadSequence[registry.Namespace](ctx, s.db, "SELECT namespace FROM registry_values ORDER BY pos")
	if err != nil {
		return nil, fmt.Errorf("load registry values: %w", err)
	}
	if keys == nil && values == nil {
		return nil, nil
	}
	return &registry.Snapshot{Keys: keys, Values: values}, nil
}

// SaveSnapshot replaces both sequences in one transaction so they are never
// persisted with different lengths.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *registry.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM registry_keys"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM registry_values"); err != nil {
		return err
	}

	if snap != nil {
		for i, def := range snap.Keys {
			payload, err := json.Marshal(def)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO registry_keys (pos, definition) VALUES (?, ?)", i, string(payload)); err != nil {
				return err
			}
		}
		for i, ns := range snap.Values {
			payload, err := json.Marshal(ns)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO registry_values (pos, namespace) VALUES (?, ?)", i, string(payload)); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug(log.CatStore, "saved registry snapshot", "definitions", len(snapKeys(snap)))
	return nil
}

func snapKeys(snap *registry.Snapshot) []registry.Definition {
	if snap == nil {
		return nil
	}
	return snap.Keys
}

// --- Relay slot ---

func (s *SQLiteStore) LoadRelay(ctx context.Context) (*relay.PendingRequest, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM relay WHERE slot = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var req relay.PendingRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("decode relay payload: %w", err)
	}
	return &req, nil
}

func (s *SQLiteStore) SaveRelay(ctx context.Context, req *relay.PendingRequest) error {
	if req == nil {
		_, err := s.db.ExecContext(ctx, "DELETE FROM relay WHERE slot = 1")
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay (slot, payload) VALUES (1, ?)
		ON CONFLICT(slot) DO UPDATE SET payload=excluded.payload
	`, string(payload))
	return err
}

// --- Dispatch methods ---

func (s *SQLiteStore) LoadMethods(ctx context.Context) ([]dispatch.Method, error) {
	return loadSequence[dispatch.Method](ctx, s.db, "SELECT payload FROM dispatch_methods ORDER BY pos")
}

func (s *SQLiteStore) SaveMethods(ctx context.Context, methods []dispatch.Method) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dispatch_methods"); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO dispatch_methods (pos, key, payload) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range methods {
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, i, m.Key, string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func loadSequence[T any](ctx context.Context, db *sql.DB, query string) ([]T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
