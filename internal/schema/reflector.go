package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/observability"
)

const DefaultSampleRows = 3

const (
	queryListTables = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public'
ORDER BY table_name`

	queryColumns = `
SELECT column_name, data_type, is_nullable, column_default,
       character_maximum_length, numeric_precision, numeric_scale
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`

	queryPrimaryKeys = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = 'public'
ORDER BY tc.table_name, kcu.ordinal_position`

	queryForeignKeys = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = 'public'
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`

	queryTableComment = `
SELECT d.description
FROM pg_description d
JOIN pg_class c ON d.objoid = c.oid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = 'public' AND c.relname = $1 AND d.objsubid = 0`

	queryColumnComment = `
SELECT d.description
FROM pg_description d
JOIN pg_class c ON d.objoid = c.oid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND d.objsubid = a.attnum
WHERE n.nspname = 'public' AND c.relname = $1 AND a.attname = $2`
)

// Querier is satisfied by *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type Options struct {
	SampleRows int
	Logger     *slog.Logger
}

// Reflector reads the public schema through catalog views. It never writes.
type Reflector struct {
	db         Querier
	sampleRows int
	logger     *slog.Logger
}

func NewReflector(db Querier, opts Options) *Reflector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sampleRows := opts.SampleRows
	if sampleRows < 0 {
		sampleRows = DefaultSampleRows
	}
	return &Reflector{db: db, sampleRows: sampleRows, logger: logger}
}

func (r *Reflector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, queryListTables)
	if err != nil {
		return nil, &ReflectionError{Op: "list tables", Err: err}
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &ReflectionError{Op: "list tables", Err: err}
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReflectionError{Op: "list tables", Err: err}
	}
	return tables, nil
}

// Columns returns the table's columns in declared order, without comments.
func (r *Reflector) Columns(ctx context.Context, table string) ([]Column, error) {
	op := fmt.Sprintf("columns of %q", table)
	rows, err := r.db.QueryContext(ctx, queryColumns, table)
	if err != nil {
		return nil, &ReflectionError{Op: op, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			column     Column
			isNullable string
			defaultVal sql.NullString
			maxLength  sql.NullInt64
			precision  sql.NullInt64
			scale      sql.NullInt64
		)
		if err := rows.Scan(&column.Name, &column.Type, &isNullable, &defaultVal, &maxLength, &precision, &scale); err != nil {
			return nil, &ReflectionError{Op: op, Err: err}
		}
		column.Nullable = isNullable == "YES"
		if defaultVal.Valid {
			value := defaultVal.String
			column.Default = &value
		}
		column.MaxLength = intPtr(maxLength)
		column.Precision = intPtr(precision)
		column.Scale = intPtr(scale)
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReflectionError{Op: op, Err: err}
	}
	return columns, nil
}

func (r *Reflector) PrimaryKeys(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, queryPrimaryKeys)
	if err != nil {
		return nil, &ReflectionError{Op: "primary keys", Err: err}
	}
	defer func() { _ = rows.Close() }()

	keys := map[string][]string{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, &ReflectionError{Op: "primary keys", Err: err}
		}
		keys[table] = append(keys[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReflectionError{Op: "primary keys", Err: err}
	}
	return keys, nil
}

func (r *Reflector) ForeignKeys(ctx context.Context) ([]Relationship, error) {
	rows, err := r.db.QueryContext(ctx, queryForeignKeys)
	if err != nil {
		return nil, &ReflectionError{Op: "foreign keys", Err: err}
	}
	defer func() { _ = rows.Close() }()

	relationships := make([]Relationship, 0)
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.Table, &rel.Column, &rel.ReferencesTable, &rel.ReferencesColumn); err != nil {
			return nil, &ReflectionError{Op: "foreign keys", Err: err}
		}
		relationships = append(relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReflectionError{Op: "foreign keys", Err: err}
	}
	return relationships, nil
}

// Comment returns the table comment, or the column comment when column is set.
// A missing comment is the empty string.
func (r *Reflector) Comment(ctx context.Context, table, column string) (string, error) {
	var row *sql.Row
	op := fmt.Sprintf("comment of %q", table)
	if column == "" {
		row = r.db.QueryRowContext(ctx, queryTableComment, table)
	} else {
		op = fmt.Sprintf("comment of %q.%q", table, column)
		row = r.db.QueryRowContext(ctx, queryColumnComment, table, column)
	}

	var comment sql.NullString
	if err := row.Scan(&comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", &ReflectionError{Op: op, Err: err}
	}
	return comment.String, nil
}

// SampleRows fetches up to limit rows from a table that exists in the public schema.
func (r *Reflector) SampleRows(ctx context.Context, table string, limit int) ([]database.Row, error) {
	tables, err := r.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	known := false
	for _, candidate := range tables {
		if candidate == table {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return r.fetchSampleRows(ctx, table, limit)
}

func (r *Reflector) fetchSampleRows(ctx context.Context, table string, limit int) ([]database.Row, error) {
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	op := fmt.Sprintf("sample rows of %q", table)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, &ReflectionError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	query := "SELECT * FROM " + pgx.Identifier{table}.Sanitize() + " LIMIT " + strconv.Itoa(limit)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, &ReflectionError{Op: op, Err: err}
	}
	defer func() { _ = rows.Close() }()

	_, result, err := database.ScanRows(rows)
	if err != nil {
		return nil, &ReflectionError{Op: op, Err: err}
	}
	return result, nil
}

// BuildInfo aggregates tables, columns, comments, keys and sample rows.
// Sample row failures are logged and skipped; every other failure aborts.
func (r *Reflector) BuildInfo(ctx context.Context) (Info, error) {
	start := time.Now()

	tables, err := r.ListTables(ctx)
	if err != nil {
		return Info{}, err
	}
	relationships, err := r.ForeignKeys(ctx)
	if err != nil {
		return Info{}, err
	}
	primaryKeys, err := r.PrimaryKeys(ctx)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Tables:        make([]Table, 0, len(tables)),
		Relationships: relationships,
		PrimaryKeys:   primaryKeys,
		SampleData:    map[string][]database.Row{},
	}

	for _, name := range tables {
		columns, err := r.Columns(ctx, name)
		if err != nil {
			return Info{}, err
		}
		for i := range columns {
			comment, err := r.Comment(ctx, name, columns[i].Name)
			if err != nil {
				return Info{}, err
			}
			columns[i].Comment = comment
		}
		tableComment, err := r.Comment(ctx, name, "")
		if err != nil {
			return Info{}, err
		}
		info.Tables = append(info.Tables, Table{Name: name, Columns: columns, Comment: tableComment})

		if r.sampleRows == 0 {
			continue
		}
		sample, err := r.fetchSampleRows(ctx, name, r.sampleRows)
		if err != nil {
			r.logger.WarnContext(ctx, "sample_rows_skipped", slog.String("table", name), slog.Any("error", err))
			continue
		}
		if len(sample) > 0 {
			info.SampleData[name] = sample
		}
	}

	observability.ObserveSchemaReflect(time.Since(start))
	r.logger.DebugContext(ctx, "schema_reflected",
		slog.Int("tables", len(info.Tables)),
		slog.Int("relationships", len(info.Relationships)),
		slog.String("duration", time.Since(start).String()),
	)
	return info, nil
}

func intPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}
