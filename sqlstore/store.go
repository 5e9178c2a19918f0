// Package sqlstore is the database/sql DataSource variant. It speaks the
// two dialects the platform runs on: postgres through the pgx stdlib
// driver and sqlite through the pure-go modernc driver.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/suhitaghosh10/oeplatform"
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DefaultKeyColumn is the primary-key column rows are keyed and ordered
// by unless overridden.
const DefaultKeyColumn = "id"

type (
	Store struct {
		db      *sql.DB
		dialect Dialect
		keyCol  string
	}

	Option func(s *Store)
)

var _ oeplatform.DataSource = (*Store)(nil)

func WithKeyColumn(col string) Option {
	return func(s *Store) { s.keyCol = col }
}

func New(db *sql.DB, dialect Dialect, options ...Option) *Store {
	s := &Store{db: db, dialect: dialect, keyCol: DefaultKeyColumn}
	for _, option := range options {
		option(s)
	}
	return s
}

func OpenPostgres(dsn string, options ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, Postgres, options...), nil
}

func OpenSQLite(path string, options ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return New(db, SQLite, options...), nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// EnsureTable creates the table (and, on postgres, its schema) with a
// text key column plus text value columns. Dev-server convenience; real
// deployments bring their own DDL.
func (s *Store) EnsureTable(ctx context.Context, ref oeplatform.TableRef, columns []string) error {
	if s.dialect == Postgres {
		if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(ref.Schema)); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	defs := []string{quoteIdent(s.keyCol) + " TEXT PRIMARY KEY"}
	for _, col := range columns {
		if col == s.keyCol {
			continue
		}
		defs = append(defs, quoteIdent(col)+" TEXT")
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.qualify(ref), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}
	return nil
}

// Fetch selects one window of rows ordered by the key column.
func (s *Store) Fetch(ctx context.Context, ref oeplatform.TableRef, page oeplatform.Page) (*oeplatform.RowPage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = oeplatform.DefaultPageSize
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.qualify(ref)).Scan(&total); err != nil {
		return nil, &oeplatform.FetchError{Message: err.Error()}
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		s.qualify(ref), quoteIdent(s.keyCol), limit, offset)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &oeplatform.FetchError{Message: err.Error()}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &oeplatform.FetchError{Message: err.Error()}
	}

	result := &oeplatform.RowPage{Total: total}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &oeplatform.FetchError{Message: err.Error()}
		}
		data := oeplatform.RowData{Values: make(map[string]any, len(cols))}
		for i, col := range cols {
			value := normalize(cells[i])
			if col == s.keyCol {
				data.Key = fmt.Sprint(value)
			}
			data.Values[col] = value
		}
		result.Rows = append(result.Rows, data)
	}
	if err := rows.Err(); err != nil {
		return nil, &oeplatform.FetchError{Message: err.Error()}
	}
	return result, nil
}

// Save applies one change-set inside a transaction. A row that matches
// nothing is reported in SaveResult.Failed and the transaction is rolled
// back, so either the whole set lands or none of it does.
func (s *Store) Save(ctx context.Context, ref oeplatform.TableRef, cs oeplatform.ChangeSet) (*oeplatform.SaveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &oeplatform.SubmitError{Message: err.Error()}
	}

	result := &oeplatform.SaveResult{Assigned: map[string]string{}}
	var failed []oeplatform.RowError

	for _, create := range cs.Creates {
		key := uuid.NewString()
		query, args := s.insertSQL(ref, key, create.Values)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, s.abort(tx, err)
		}
		result.Assigned[create.Key] = key
	}
	for _, update := range cs.Updates {
		query, args := s.updateSQL(ref, update.Key, update.Changed)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, s.abort(tx, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			failed = append(failed, oeplatform.RowError{Key: update.Key, Message: "row does not exist"})
		}
	}
	for _, key := range cs.Deletes {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.qualify(ref), quoteIdent(s.keyCol), s.placeholder(1))
		res, err := tx.ExecContext(ctx, query, key)
		if err != nil {
			return nil, s.abort(tx, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			failed = append(failed, oeplatform.RowError{Key: key, Message: "row does not exist"})
		}
	}

	if len(failed) > 0 {
		if err := tx.Rollback(); err != nil {
			return nil, &oeplatform.SubmitError{Message: err.Error()}
		}
		return &oeplatform.SaveResult{Failed: failed}, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, &oeplatform.SubmitError{Message: err.Error()}
	}
	return result, nil
}

func (s *Store) abort(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		err = multierror.Append(err, rbErr)
	}
	return &oeplatform.SubmitError{Message: err.Error()}
}

func (s *Store) insertSQL(ref oeplatform.TableRef, key string, values map[string]any) (string, []any) {
	cols := []string{s.keyCol}
	args := []any{key}
	for _, name := range sortedColumns(values) {
		if name == s.keyCol {
			continue
		}
		cols = append(cols, name)
		args = append(args, values[name])
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
		marks[i] = s.placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.qualify(ref), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return query, args
}

func (s *Store) updateSQL(ref oeplatform.TableRef, key string, changed map[string]any) (string, []any) {
	var sets []string
	var args []any
	for i, name := range sortedColumns(changed) {
		sets = append(sets, quoteIdent(name)+" = "+s.placeholder(i+1))
		args = append(args, changed[name])
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.qualify(ref), strings.Join(sets, ", "), quoteIdent(s.keyCol), s.placeholder(len(args)+1))
	args = append(args, key)
	return query, args
}

// qualify renders the table reference for the dialect. Sqlite has no
// schemas, so schema and table collapse into one identifier there.
func (s *Store) qualify(ref oeplatform.TableRef) string {
	if s.dialect == SQLite {
		return quoteIdent(ref.Schema + "." + ref.Table)
	}
	return quoteIdent(ref.Schema) + "." + quoteIdent(ref.Table)
}

func (s *Store) placeholder(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for name := range values {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

func normalize(value any) any {
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return value
}
