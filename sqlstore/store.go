// Package sqlstore renders compiled queries as SQL and executes them against a
// pair of read and write pools.
//
// Values reach the database as escaped literals: Render inlines every :name
// token of a Statement right before execution so that statements of one kind
// can be joined into a single multi-statement round trip.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/query"
)

// ErrMixedBatch is returned when a batch mixes read and write statements.
var ErrMixedBatch = errors.New("sqlstore: batch mixes statement kinds")

// Conn is a pool handle. *bun.DB and *sql.DB both satisfy it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Options configures a Store.
type Options struct {
	Write Conn
	// Read defaults to Write.
	Read    Conn
	Dialect Dialect
	// MultiStatements allows read batches to be sent as one round trip.
	MultiStatements bool
}

// Store executes statements with read/write routing.
type Store struct {
	write   Conn
	read    Conn
	dialect Dialect
	multi   bool
	builder *Builder
}

// New validates opts and returns a Store.
func New(opts Options) (*Store, error) {
	if opts.Write == nil {
		return nil, errors.New("sqlstore: write pool is required")
	}
	if opts.Dialect == nil {
		return nil, errors.New("sqlstore: dialect is required")
	}
	read := opts.Read
	if read == nil {
		read = opts.Write
	}
	return &Store{
		write:   opts.Write,
		read:    read,
		dialect: opts.Dialect,
		multi:   opts.MultiStatements,
		builder: NewBuilder(opts.Dialect),
	}, nil
}

// Builder returns the statement builder for the store's dialect.
func (s *Store) Builder() *Builder { return s.builder }

// Render inlines the parameters of stmt using the store's dialect.
func (s *Store) Render(stmt Statement) string { return Render(s.dialect, stmt) }

// Result is a normalized statement outcome.
type Result struct {
	Verb Verb
	// Rows holds SELECT output in database order.
	Rows []map[string]any
	// Keyed indexes Rows by the KeyBy column when requested.
	Keyed map[string]map[string]any
	// InsertID is the generated key of an INSERT.
	InsertID int64
	// Affected is the driver-reported row count of a write.
	Affected int64
}

// First returns the first row of a SELECT, or nil.
func (r *Result) First() map[string]any {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

type queryOptions struct {
	keyBy      string
	forceWrite bool
}

// QueryOption tunes a single execution.
type QueryOption func(*queryOptions)

// KeyBy indexes SELECT rows by the given column.
func KeyBy(column string) QueryOption {
	return func(o *queryOptions) { o.keyBy = column }
}

// ForceWrite routes a SELECT to the write pool.
func ForceWrite() QueryOption {
	return func(o *queryOptions) { o.forceWrite = true }
}

func collect(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (s *Store) pool(kind Kind, o queryOptions) Conn {
	if kind == KindRead && !o.forceWrite {
		return s.read
	}
	return s.write
}

func execError(err error, sql string) error {
	return dserr.Wrap(err, dserr.QueryExecutionError, fmt.Sprintf("query failed: %v [%s]", err, sql))
}

// Query renders and executes one statement.
func (s *Store) Query(ctx context.Context, stmt Statement, opts ...QueryOption) (*Result, error) {
	o := collect(opts)
	text := s.Render(stmt)
	verb, kind := Classify(text)
	switch kind {
	case KindRead:
		rows, err := s.pool(kind, o).QueryContext(ctx, text)
		if err != nil {
			return nil, execError(err, text)
		}
		defer rows.Close()
		res, err := scanResult(rows, o)
		if err != nil {
			return nil, execError(err, text)
		}
		return res, nil
	case KindWrite:
		out, err := s.pool(kind, o).ExecContext(ctx, text)
		if err != nil {
			return nil, execError(err, text)
		}
		res := &Result{Verb: verb}
		if res.Affected, err = out.RowsAffected(); err != nil {
			return nil, execError(err, text)
		}
		if verb == VerbInsert {
			if res.InsertID, err = out.LastInsertId(); err != nil {
				return nil, execError(err, text)
			}
		}
		return res, nil
	}
	return nil, dserr.New(dserr.QueryExecutionError, fmt.Sprintf("unsupported statement: %.40s", text))
}

// QueryMulti executes statements of a single kind. Read batches are joined into
// one round trip when the pool allows multiple statements. Writes always run one
// statement at a time so each reports its own outcome; on failure the results of
// the statements that already ran are returned with the error.
func (s *Store) QueryMulti(ctx context.Context, stmts []Statement, opts ...QueryOption) ([]*Result, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	kind := stmts[0].Kind()
	for _, stmt := range stmts[1:] {
		if stmt.Kind() != kind {
			return nil, dserr.Wrap(ErrMixedBatch, dserr.QueryExecutionError, ErrMixedBatch.Error())
		}
	}

	if kind != KindRead || !s.multi || len(stmts) == 1 {
		results := make([]*Result, 0, len(stmts))
		for _, stmt := range stmts {
			res, err := s.Query(ctx, stmt, opts...)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
		return results, nil
	}

	o := collect(opts)
	texts := make([]string, len(stmts))
	for i, stmt := range stmts {
		texts[i] = s.Render(stmt)
	}
	text := strings.Join(texts, "; ")
	rows, err := s.pool(kind, o).QueryContext(ctx, text)
	if err != nil {
		return nil, execError(err, text)
	}
	defer rows.Close()

	results := make([]*Result, 0, len(stmts))
	for {
		res, err := scanSet(rows, o)
		if err != nil {
			return nil, execError(err, text)
		}
		results = append(results, res)
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, execError(err, text)
	}
	if len(results) != len(stmts) {
		return nil, dserr.New(dserr.QueryExecutionError,
			fmt.Sprintf("expected %d result sets, got %d", len(stmts), len(results)))
	}
	return results, nil
}

func scanResult(rows *sql.Rows, o queryOptions) (*Result, error) {
	res, err := scanSet(rows, o)
	if err != nil {
		return nil, err
	}
	return res, rows.Err()
}

// scanSet reads the current result set into row maps.
func scanSet(rows *sql.Rows, o queryOptions) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Verb: VerbSelect, Rows: []map[string]any{}}
	if o.keyBy != "" {
		res.Keyed = make(map[string]map[string]any)
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
		if res.Keyed != nil {
			res.Keyed[query.KeyString(row[o.keyBy])] = row
		}
	}
	return res, nil
}
