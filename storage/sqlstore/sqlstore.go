// Package sqlstore implements storage.Store on top of database/sql. Records
// are stored as JSON documents keyed by primary key, either in a shared
// default table (keyed by id and entity type) or in a dedicated table per
// model after InitModel. SQL differences between engines are captured by a
// Dialect, see the sqlite and postgres packages.
//
//nolint:gosec // SQL string concat is used to parameterize table names only.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/storage"
)

// Dialect captures engine specific SQL.
type Dialect interface {
	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string

	// JSONField returns an expression extracting key from the value column.
	JSONField(key string) string

	// FilterArg converts a filter value into a bind argument comparable with
	// JSONField.
	FilterArg(v any) any

	// Now returns the current timestamp expression.
	Now() string

	// DefaultTableDDL returns statements creating the shared table.
	DefaultTableDDL(table string) []string

	// ModelTableDDL returns statements creating a dedicated model table.
	ModelTableDDL(table string) []string

	// TranslateError maps driver errors onto storage errors.
	TranslateError(err error) error
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the default "permissible_" table prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithSchema qualifies table names with a schema.
func WithSchema(schema string) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

// WithAutoCreateTables controls whether tables are created on demand. Disable
// it where migrations are managed separately.
func WithAutoCreateTables(autoCreate bool) Option {
	return func(s *Store) {
		s.autoCreate = autoCreate
	}
}

// Store is a storage.Store, storage.ModelInitializer and storage.Transactor.
type Store struct {
	db         *sql.DB
	dialect    Dialect
	prefix     string
	schema     string
	autoCreate bool

	mu     sync.RWMutex
	tables map[string]bool
}

// New wraps db. The default table is created immediately unless automatic
// table creation is disabled.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{
		db:         db,
		dialect:    dialect,
		prefix:     "permissible_",
		autoCreate: true,
		tables:     map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.autoCreate {
		if err := s.exec(ctx, dialect.DefaultTableDDL(s.qualified("default"))); err != nil {
			return nil, errors.WrapPrefix(err, "failed to create default table", 0)
		}
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitModel sets up a dedicated table for the model.
func (s *Store) InitModel(ctx context.Context, model storage.Model) error {
	name := storage.Name(model)
	s.mu.Lock()
	s.tables[name] = true
	s.mu.Unlock()

	if !s.autoCreate {
		return nil
	}
	if err := s.exec(ctx, s.dialect.ModelTableDDL(s.qualified(name))); err != nil {
		return errors.WrapPrefix(err, fmt.Sprintf("failed to create table [%s]", name), 0)
	}
	return nil
}

type txKey struct{}

type txState struct {
	owner *Store
	tx    *sql.Tx
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *Store) txFrom(ctx context.Context) (*sql.Tx, bool) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.owner == s {
		return st.tx, true
	}
	return nil, false
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := s.txFrom(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx implements storage.Transactor.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := s.txFrom(ctx); ok {
		return fn(ctx)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, &txState{owner: s, tx: tx}))
	})
}

// withTx runs fn in the context's transaction, or a new one.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := s.txFrom(ctx); ok {
		return fn(tx)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error { return fn(tx) })
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dialect.TranslateError(err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return s.dialect.TranslateError(err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, false, models...)
}

func (s *Store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, true, models...)
}

func (s *Store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	where, args := s.keyClause(model, id, 1)
	row := s.q(ctx).QueryRowContext(ctx, "SELECT value FROM "+s.tableName(model)+" WHERE "+where, args...)

	var value []byte
	if err := row.Scan(&value); err != nil {
		return s.dialect.TranslateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *Store) Update(ctx context.Context, models ...storage.Model) error {
	return s.withTx(ctx, func(q querier) error {
		for _, model := range models {
			value, err := encode(model)
			if err != nil {
				return err
			}
			where, args := s.keyClause(model, model.PK(), 2)
			query := "UPDATE " + s.tableName(model) + " SET value = " + s.dialect.Placeholder(1) +
				", updated_at = " + s.dialect.Now() + " WHERE " + where
			res, err := prepareAndExec(ctx, q, query, append([]any{value}, args...)...)
			if err != nil {
				return s.dialect.TranslateError(err)
			}
			if n, err := res.RowsAffected(); n == 0 || err != nil {
				return errors.Mark(storage.ErrNotFound, 0)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, model storage.Model) error {
	where, args := s.keyClause(model, model.PK(), 1)
	res, err := s.q(ctx).ExecContext(ctx, "DELETE FROM "+s.tableName(model)+" WHERE "+where, args...)
	if err != nil {
		return s.dialect.TranslateError(err)
	}
	if n, err := res.RowsAffected(); n == 0 || err != nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	where, args := s.keyClause(model, id, 1)
	var n int
	err := s.q(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.tableName(model)+" WHERE "+where, args...).Scan(&n)
	if err != nil {
		return false, s.dialect.TranslateError(err)
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, models any, filter storage.Model) error {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return errors.Mark(storage.ErrSliceRequired, 0)
	}
	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return errors.Mark(storage.ErrTypeMismatch, 0)
	}

	query, args := s.buildListQuery(filter)
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return s.dialect.TranslateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return s.dialect.TranslateError(err)
		}
		elem := reflect.New(elemType)
		if err := json.Unmarshal(value, elem.Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		sliceVal.Set(reflect.Append(sliceVal, elem.Elem()))
	}
	return s.dialect.TranslateError(rows.Err())
}

func (s *Store) insert(ctx context.Context, upsert bool, models ...storage.Model) error {
	return s.withTx(ctx, func(q querier) error {
		for _, model := range models {
			value, err := encode(model)
			if err != nil {
				return err
			}

			table, isDefault := s.table(model)
			p := s.dialect.Placeholder
			var query string
			var args []any
			if isDefault {
				query = "INSERT INTO " + table + " (id, entity_type, value, created_at, updated_at) VALUES (" +
					p(1) + ", " + p(2) + ", " + p(3) + ", " + s.dialect.Now() + ", " + s.dialect.Now() + ")"
				if upsert {
					query += " ON CONFLICT (id, entity_type) DO UPDATE SET value = excluded.value, updated_at = " + s.dialect.Now()
				}
				args = []any{model.PK(), storage.Name(model), value}
			} else {
				query = "INSERT INTO " + table + " (id, value, created_at, updated_at) VALUES (" +
					p(1) + ", " + p(2) + ", " + s.dialect.Now() + ", " + s.dialect.Now() + ")"
				if upsert {
					query += " ON CONFLICT (id) DO UPDATE SET value = excluded.value, updated_at = " + s.dialect.Now()
				}
				args = []any{model.PK(), value}
			}

			if _, err := prepareAndExec(ctx, q, query, args...); err != nil {
				return s.dialect.TranslateError(err)
			}
		}
		return nil
	})
}

func (s *Store) qualified(name string) string {
	if s.schema != "" {
		return s.schema + "." + s.prefix + name
	}
	return s.prefix + name
}

func (s *Store) table(model any) (string, bool) {
	name := storage.Name(model)
	s.mu.RLock()
	dedicated := s.tables[name]
	s.mu.RUnlock()
	if !dedicated {
		return s.qualified("default"), true
	}
	return s.qualified(name), false
}

func (s *Store) tableName(model any) string {
	t, _ := s.table(model)
	return t
}

// keyClause returns the primary key WHERE clause, numbering placeholders
// from start.
func (s *Store) keyClause(model any, id string, start int) (string, []any) {
	if _, isDefault := s.table(model); isDefault {
		return "id = " + s.dialect.Placeholder(start) + " AND entity_type = " + s.dialect.Placeholder(start+1),
			[]any{id, storage.Name(model)}
	}
	return "id = " + s.dialect.Placeholder(start), []any{id}
}

func (s *Store) buildListQuery(filter storage.Model) (string, []any) {
	table, isDefault := s.table(filter)

	var where []string
	var args []any
	if isDefault {
		args = append(args, storage.Name(filter))
		where = append(where, "entity_type = "+s.dialect.Placeholder(len(args)))
	}
	for _, f := range storage.FilterFields(filter) {
		args = append(args, s.dialect.FilterArg(f.Value))
		where = append(where, s.dialect.JSONField(f.Key)+" = "+s.dialect.Placeholder(len(args)))
	}

	query := "SELECT value FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY id", args
}

func (s *Store) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// encode returns the JSON document as a string so that engines store it as
// text rather than as an opaque blob.
func encode(model storage.Model) (string, error) {
	if err := storage.ValidateReceiver(model); err != nil {
		return "", err
	}
	value, err := json.Marshal(model)
	if err != nil {
		return "", errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return string(value), nil
}

func prepareAndExec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.ExecContext(ctx, args...)
}
