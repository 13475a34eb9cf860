package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/observability"
)

const (
	probeStatement = "SELECT 1"

	sqlStateInFailedTransaction = "25P02"
	sqlStateReadOnlyTransaction = "25006"
)

var readOnlyKeywords = map[string]struct{}{
	"select":  {},
	"with":    {},
	"explain": {},
	"show":    {},
	"table":   {},
	"values":  {},
}

// Dialer opens a database handle. The executor owns and closes what it returns.
type Dialer func(ctx context.Context) (*sql.DB, error)

// DialDSN returns a Dialer backed by database.Open.
func DialDSN(cfg database.DBConfig) Dialer {
	return func(ctx context.Context) (*sql.DB, error) {
		return database.Open(ctx, cfg)
	}
}

type Options struct {
	ReadOnly bool
	Logger   *slog.Logger
}

type Result struct {
	Columns  []string       `json:"columns"`
	Rows     []database.Row `json:"rows"`
	Duration time.Duration  `json:"-"`
}

// Executor runs statements on one dedicated connection, one transaction per statement.
// It is not safe for concurrent use.
type Executor struct {
	dial     Dialer
	readOnly bool
	logger   *slog.Logger

	db   *sql.DB
	conn *sql.Conn
}

func New(dial Dialer, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{dial: dial, readOnly: opts.ReadOnly, logger: logger}
}

// Scoped runs fn with a fresh executor and closes it on every exit path.
func Scoped(ctx context.Context, dial Dialer, opts Options, fn func(*Executor) error) (err error) {
	e := New(dial, opts)
	defer func() {
		if closeErr := e.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(e)
}

// Connect establishes the connection if there is none yet.
func (e *Executor) Connect(ctx context.Context) error {
	if e.conn != nil {
		return nil
	}
	if e.dial == nil {
		return &ConnectionError{Err: errors.New("no dialer configured")}
	}

	db, err := e.dial(ctx)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return &ConnectionError{Err: err}
	}
	e.db = db
	e.conn = conn
	e.logger.DebugContext(ctx, "database_connected")
	return nil
}

// Execute runs sqlText inside its own transaction, committing on success and rolling
// back on any failure. Statements without a result set return empty columns and rows.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	if e.readOnly && !IsReadOnlyStatement(sqlText) {
		observability.IncrementStatementRefused()
		return Result{}, &QueryError{SQL: sqlText, Err: ErrStatementNotAllowed}
	}
	if err := e.Connect(ctx); err != nil {
		return Result{}, err
	}
	if err := e.prepare(ctx); err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := e.run(ctx, sqlText)
	elapsed := time.Since(start)
	if err != nil {
		observability.ObserveStatement("rolled_back", elapsed)
		if isReadOnlyViolation(err) {
			observability.IncrementStatementRefused()
			err = fmt.Errorf("%w: %w", ErrStatementNotAllowed, err)
		}
		e.logger.InfoContext(ctx, "statement_rolled_back",
			slog.String("duration", elapsed.String()),
			slog.Any("error", err),
		)
		return Result{}, &QueryError{SQL: sqlText, Err: err}
	}
	observability.ObserveStatement("committed", elapsed)
	result.Duration = elapsed
	return result, nil
}

// CheckHealth reports whether the current connection can serve statements.
func (e *Executor) CheckHealth(ctx context.Context) bool {
	if e.conn == nil {
		return false
	}
	err := e.probe(ctx)
	if err == nil {
		return true
	}
	if isFailedTransaction(err) {
		return e.recoverTransaction(ctx, err) == nil
	}
	return false
}

func (e *Executor) Close() error {
	var errs []error
	if e.conn != nil {
		if err := e.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		e.conn = nil
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		e.db = nil
	}
	return errors.Join(errs...)
}

// prepare probes the connection. An aborted transaction is rolled back in place; any
// other probe failure replaces the connection once.
func (e *Executor) prepare(ctx context.Context) error {
	err := e.probe(ctx)
	if err == nil {
		return nil
	}
	if isFailedTransaction(err) {
		if rollbackErr := e.recoverTransaction(ctx, err); rollbackErr == nil {
			return nil
		}
	}

	e.logger.WarnContext(ctx, "database_reconnect", slog.Any("error", err))
	observability.IncrementReconnect()
	if closeErr := e.Close(); closeErr != nil {
		e.logger.DebugContext(ctx, "database_close_failed", slog.Any("error", closeErr))
	}
	return e.Connect(ctx)
}

func (e *Executor) probe(ctx context.Context) error {
	_, err := e.conn.ExecContext(ctx, probeStatement)
	return err
}

func (e *Executor) recoverTransaction(ctx context.Context, cause error) error {
	if _, err := e.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback aborted transaction: %w", err)
	}
	observability.IncrementTransactionRecovery()
	e.logger.WarnContext(ctx, "transaction_state_recovered", slog.Any("error", &TransactionStateError{Err: cause}))
	return nil
}

func (e *Executor) run(ctx context.Context, sqlText string) (Result, error) {
	tx, err := e.conn.BeginTx(ctx, e.txOptions())
	if err != nil {
		return Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	columns, values, scanErr := database.ScanRows(rows)
	closeErr := rows.Close()
	if scanErr != nil {
		return Result{}, scanErr
	}
	if closeErr != nil {
		return Result{}, fmt.Errorf("close rows: %w", closeErr)
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit transaction: %w", err)
	}
	return Result{Columns: columns, Rows: values}, nil
}

// txOptions makes the server enforce read-only mode. The keyword check in Execute only
// sees the leading keyword, so a data-modifying CTE still reaches this transaction.
func (e *Executor) txOptions() *sql.TxOptions {
	if !e.readOnly {
		return nil
	}
	return &sql.TxOptions{ReadOnly: true}
}

// IsReadOnlyStatement reports whether sqlText starts with a keyword that cannot write.
func IsReadOnlyStatement(sqlText string) bool {
	trimmed := strings.TrimLeft(strings.TrimSpace(sqlText), "(")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	keyword := strings.ToLower(strings.TrimRight(fields[0], ";("))
	_, ok := readOnlyKeywords[keyword]
	return ok
}

func isFailedTransaction(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateInFailedTransaction
}

func isReadOnlyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateReadOnlyTransaction
}
