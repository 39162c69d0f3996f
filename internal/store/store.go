// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store is the persistence boundary of the resolution engine.
// It defines the capability set the engine is written against (Adapter)
// and provides the SQLite implementation, the canonical map, the
// exclusion set, and provenance records.
// Implements: prd005-storage (R1-R4); docs/ARCHITECTURE § Entity Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/bibgraph/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "bibgraph.db"
	lockFile = "bibgraph.lock"
)

// Row is a generic table row keyed by column name. A nil value reads
// and writes as SQL NULL.
type Row map[string]any

// Str returns the named column as a string; NULL reads as "".
func (r Row) Str(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int returns the named column as an int64; NULL reads as 0.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float returns the named column as a float64; NULL reads as 0.
func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// IsNull reports whether the named column is absent, NULL, or an empty
// string. Empty strings from sparse sources are treated as unknown.
func (r Row) IsNull(col string) bool {
	switch v := r[col].(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	default:
		return false
	}
}

// Adapter is the capability set the resolution engine requires of a
// backend. Any implementation (relational, document, in-memory) that
// honors these semantics can host the engine. All statement text is
// built from the static schema contract; values are always bound as
// parameters, never interpolated.
type Adapter interface {
	// Select returns the rows of table matching every equality in
	// where; a nil or empty where returns all rows.
	Select(ctx context.Context, table string, where Row) ([]Row, error)

	// Upsert writes row, replacing the non-key columns of an existing
	// row sharing the key columns.
	Upsert(ctx context.Context, table string, keys []string, row Row) error

	// InsertIgnore writes row unless a uniqueness constraint already
	// covers it, in which case it is a no-op. Used for relation rows
	// (links, aliases, byline slots) where re-attachment must not
	// duplicate or steal the existing row.
	InsertIgnore(ctx context.Context, table string, row Row) error

	// Redirect rewrites every row of target whose column is one of the
	// from ids to reference to instead. Rows whose rewrite would
	// violate a uniqueness constraint (the canonical side already has
	// an identical row) are deleted. After Redirect returns, no row in
	// target references any of the from ids.
	Redirect(ctx context.Context, target FKRef, from []string, to string) error

	// Delete removes the rows of table matching every equality in where.
	Delete(ctx context.Context, table string, where Row) error
}

// Conn is an Adapter that can scope work into a transaction. Everything
// inside fn commits atomically or not at all.
type Conn interface {
	Adapter
	Transact(ctx context.Context, fn func(Adapter) error) error
}

// Store is the SQLite-backed entity store. A file lock on the index
// directory enforces the single-writer discipline; readers may open the
// database independently under WAL.
type Store struct {
	session
	db   *sql.DB
	lock *flock.Flock
	dir  string
}

// Open opens or creates the store under cfg.DataDir/index/ and acquires
// the writer lock. It creates the schema if it does not exist.
func Open(cfg types.StoreConfig) (*Store, error) {
	dir := filepath.Join(cfg.DataDir, indexDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store %s is locked by another writer", dir)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		session: session{q: db},
		db:      db,
		lock:    lock,
		dir:     dir,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection and the writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (s *Store) createSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Transact runs fn inside one transaction, committing on success and
// rolling back on error. Implements Conn.
func (s *Store) Transact(ctx context.Context, fn func(Adapter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&session{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// session implements Adapter over a database handle or transaction.
type session struct {
	q execer
}

func (s *session) Select(ctx context.Context, table string, where Row) ([]Row, error) {
	var qb strings.Builder
	fmt.Fprintf(&qb, "SELECT * FROM %s", table)
	args := appendWhere(&qb, where)

	rows, err := s.q.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *session) Upsert(ctx context.Context, table string, keys []string, row Row) error {
	cols := sortedColumns(row)

	var qb strings.Builder
	fmt.Fprintf(&qb, "INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))

	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	var updates []string
	for _, c := range cols {
		if !keySet[c] {
			updates = append(updates, fmt.Sprintf("%s=excluded.%s", c, c))
		}
	}

	if len(updates) == 0 {
		fmt.Fprintf(&qb, " ON CONFLICT(%s) DO NOTHING", strings.Join(keys, ", "))
	} else {
		fmt.Fprintf(&qb, " ON CONFLICT(%s) DO UPDATE SET %s",
			strings.Join(keys, ", "), strings.Join(updates, ", "))
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = row[c]
	}
	if _, err := s.q.ExecContext(ctx, qb.String(), args...); err != nil {
		return fmt.Errorf("upserting into %s: %w", table, err)
	}
	return nil
}

func (s *session) InsertIgnore(ctx context.Context, table string, row Row) error {
	cols := sortedColumns(row)

	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = row[c]
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

func (s *session) Redirect(ctx context.Context, target FKRef, from []string, to string) error {
	if len(from) == 0 {
		return nil
	}

	args := make([]any, 0, len(from)+1)
	args = append(args, to)
	for _, f := range from {
		args = append(args, f)
	}

	// Rows that would collide with an existing canonical-side row are
	// left behind by OR IGNORE and removed by the sweep below.
	update := fmt.Sprintf("UPDATE OR IGNORE %s SET %s = ? WHERE %s IN (%s)",
		target.Table, target.Column, target.Column, placeholders(len(from)))
	if _, err := s.q.ExecContext(ctx, update, args...); err != nil {
		return fmt.Errorf("redirecting %s.%s: %w", target.Table, target.Column, err)
	}

	sweep := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		target.Table, target.Column, placeholders(len(from)))
	if _, err := s.q.ExecContext(ctx, sweep, args[1:]...); err != nil {
		return fmt.Errorf("sweeping %s.%s: %w", target.Table, target.Column, err)
	}
	return nil
}

func (s *session) Delete(ctx context.Context, table string, where Row) error {
	var qb strings.Builder
	fmt.Fprintf(&qb, "DELETE FROM %s", table)
	args := appendWhere(&qb, where)

	if _, err := s.q.ExecContext(ctx, qb.String(), args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

// sortedColumns returns the row's column names in deterministic order.
func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func appendWhere(qb *strings.Builder, where Row) []any {
	if len(where) == 0 {
		return nil
	}
	cols := sortedColumns(where)
	var args []any
	for i, c := range cols {
		if i == 0 {
			qb.WriteString(" WHERE ")
		} else {
			qb.WriteString(" AND ")
		}
		if where[c] == nil {
			fmt.Fprintf(qb, "%s IS NULL", c)
			continue
		}
		fmt.Fprintf(qb, "%s = ?", c)
		args = append(args, where[c])
	}
	return args
}
