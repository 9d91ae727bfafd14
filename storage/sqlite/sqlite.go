// Package sqlite provides a SQLite backed storage.Store.
//
// Examples:
//
//	store, err := sqlite.New(ctx, "file:perms.db?_foreign_keys=on")
//
//	store, err := sqlite.New(ctx, ":memory:", sqlite.WithPrefix("test_"))
//
//nolint:gosec // SQL string concat is used to parameterize table names only.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/storage"
	"github.com/dpup/permissible/storage/sqlstore"
	"github.com/mattn/go-sqlite3"
)

// Options shared with the generic SQL store.
var (
	WithPrefix           = sqlstore.WithPrefix
	WithAutoCreateTables = sqlstore.WithAutoCreateTables
)

// New opens conn and returns a store. In-memory databases are limited to a
// single connection, since each connection would otherwise see its own
// empty database.
func New(ctx context.Context, conn string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to open sqlite connection", 0)
	}
	if strings.Contains(conn, ":memory:") || strings.Contains(conn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	s, err := sqlstore.New(ctx, db, Dialect{}, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MustNew is like New but panics on error.
func MustNew(conn string, opts ...sqlstore.Option) *sqlstore.Store {
	s, err := New(context.Background(), conn, opts...)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) JSONField(key string) string {
	return "json_extract(value, '$." + key + "')"
}

func (Dialect) FilterArg(v any) any { return v }

func (Dialect) Now() string { return "CURRENT_TIMESTAMP" }

func (Dialect) DefaultTableDDL(table string) []string {
	return []string{`CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, entity_type)
	)`}
}

func (Dialect) ModelTableDDL(table string) []string {
	return []string{`CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`}
}

func (Dialect) TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(storage.ErrNotFound, 0)
		case sqlite3.ErrConstraint:
			return errors.Mark(storage.ErrAlreadyExists, 0)
		}
	}
	return errors.MaybeWrap(err, 0)
}
