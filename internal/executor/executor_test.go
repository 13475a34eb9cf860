package executor

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestExecuteCommitsAndReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	e := New(staticDialer(db), Options{})

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ada").
			AddRow(int64(2), "grace"))
	mock.ExpectCommit()

	result, err := e.Execute(context.Background(), "SELECT id, name FROM users ORDER BY id")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "id" || result.Columns[1] != "name" {
		t.Fatalf("columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 || result.Rows[1]["name"] != "grace" {
		t.Fatalf("rows = %#v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteStatementWithoutResultSet(t *testing.T) {
	db, mock := newSQLMock(t)
	e := New(staticDialer(db), Options{})

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("CREATE TABLE t(x int)")).WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectCommit()

	result, err := e.Execute(context.Background(), "CREATE TABLE t(x int)")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Columns == nil || len(result.Columns) != 0 {
		t.Fatalf("columns = %#v, want empty", result.Columns)
	}
	if result.Rows == nil || len(result.Rows) != 0 {
		t.Fatalf("rows = %#v, want empty", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRecoversAfterFailedStatement(t *testing.T) {
	db, mock := newSQLMock(t)
	e := New(staticDialer(db), Options{})

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT missing_column FROM users")).
		WillReturnError(&pgconn.PgError{Code: "42703", Message: `column "missing_column" does not exist`})
	mock.ExpectRollback()

	_, err := e.Execute(context.Background(), "SELECT missing_column FROM users")
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("error = %v, want *QueryError", err)
	}
	if queryErr.SQL != "SELECT missing_column FROM users" {
		t.Fatalf("QueryError.SQL = %q", queryErr.SQL)
	}

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).
		WillReturnError(&pgconn.PgError{Code: sqlStateInFailedTransaction, Message: "current transaction is aborted"})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectCommit()

	result, err := e.Execute(context.Background(), "SELECT count(*) FROM users")
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0]["count"] != int64(7) {
		t.Fatalf("rows = %#v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReconnectsAfterProbeFailure(t *testing.T) {
	first, firstMock := newSQLMock(t)
	second, secondMock := newSQLMock(t)
	dials := 0
	e := New(func(context.Context) (*sql.DB, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}, Options{})

	firstMock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnError(errors.New("connection reset by peer"))
	firstMock.ExpectClose()

	secondMock.ExpectBegin()
	secondMock.ExpectQuery(regexp.QuoteMeta("SELECT 42 AS answer")).
		WillReturnRows(sqlmock.NewRows([]string{"answer"}).AddRow(int64(42)))
	secondMock.ExpectCommit()

	result, err := e.Execute(context.Background(), "SELECT 42 AS answer")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
	if result.Rows[0]["answer"] != int64(42) {
		t.Fatalf("rows = %#v", result.Rows)
	}
	assertSQLMock(t, firstMock)
	assertSQLMock(t, secondMock)
}

func TestExecuteReturnsConnectionErrorWhenReconnectFails(t *testing.T) {
	db, mock := newSQLMock(t)
	dials := 0
	e := New(func(context.Context) (*sql.DB, error) {
		dials++
		if dials == 1 {
			return db, nil
		}
		return nil, errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	}, Options{})

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnError(errors.New("broken pipe"))
	mock.ExpectClose()

	_, err := e.Execute(context.Background(), "SELECT 1")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectionError", err)
	}
	assertSQLMock(t, mock)
}

func TestConnectWrapsDialError(t *testing.T) {
	dialErr := errors.New("password authentication failed")
	e := New(func(context.Context) (*sql.DB, error) { return nil, dialErr }, Options{})

	err := e.Connect(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectionError", err)
	}
	if !errors.Is(err, dialErr) {
		t.Fatalf("error = %v, want wrapped dial error", err)
	}
}

func TestReadOnlyRefusesWritesWithoutTouchingConnection(t *testing.T) {
	dialed := false
	e := New(func(context.Context) (*sql.DB, error) {
		dialed = true
		return nil, errors.New("unexpected dial")
	}, Options{ReadOnly: true})

	_, err := e.Execute(context.Background(), "DELETE FROM users")
	if !errors.Is(err, ErrStatementNotAllowed) {
		t.Fatalf("error = %v, want ErrStatementNotAllowed", err)
	}
	if dialed {
		t.Fatal("read-only refusal should not dial")
	}
}

func TestReadOnlyServerRefusalOfWritingCTEIsNotAllowed(t *testing.T) {
	db, mock := newSQLMock(t)
	e := New(staticDialer(db), Options{ReadOnly: true})

	statement := "WITH d AS (DELETE FROM users RETURNING id) SELECT count(*) FROM d"
	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statement)).
		WillReturnError(&pgconn.PgError{Code: sqlStateReadOnlyTransaction, Message: "cannot execute DELETE in a read-only transaction"})
	mock.ExpectRollback()

	_, err := e.Execute(context.Background(), statement)
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("error = %v, want *QueryError", err)
	}
	if !errors.Is(err, ErrStatementNotAllowed) {
		t.Fatalf("error = %v, want ErrStatementNotAllowed", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlStateReadOnlyTransaction {
		t.Fatalf("error = %v, want wrapped server error", err)
	}
	assertSQLMock(t, mock)
}

func TestTxOptionsFollowReadOnlyMode(t *testing.T) {
	if opts := New(nil, Options{}).txOptions(); opts != nil {
		t.Fatalf("txOptions() = %+v, want nil", opts)
	}
	opts := New(nil, Options{ReadOnly: true}).txOptions()
	if opts == nil || !opts.ReadOnly {
		t.Fatalf("txOptions() = %+v, want read-only", opts)
	}
}

func TestIsReadOnlyStatement(t *testing.T) {
	allowed := []string{
		"SELECT 1",
		"  select * from users",
		"WITH t AS (SELECT 1) SELECT * FROM t",
		"(SELECT 1) UNION (SELECT 2)",
		"EXPLAIN SELECT 1",
		"show search_path",
		"TABLE users",
		"VALUES (1), (2)",
	}
	for _, statement := range allowed {
		if !IsReadOnlyStatement(statement) {
			t.Fatalf("IsReadOnlyStatement(%q) = false", statement)
		}
	}
	refused := []string{"", "   ", "INSERT INTO t VALUES (1)", "DROP TABLE users", "selectx 1", "COPY t FROM stdin"}
	for _, statement := range refused {
		if IsReadOnlyStatement(statement) {
			t.Fatalf("IsReadOnlyStatement(%q) = true", statement)
		}
	}
}

func TestCheckHealth(t *testing.T) {
	db, mock := newSQLMock(t)
	e := New(staticDialer(db), Options{})

	if e.CheckHealth(context.Background()) {
		t.Fatal("CheckHealth() before connect = true")
	}
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnResult(sqlmock.NewResult(0, 0))
	if !e.CheckHealth(context.Background()) {
		t.Fatal("CheckHealth() healthy = false")
	}

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).
		WillReturnError(&pgconn.PgError{Code: sqlStateInFailedTransaction})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK")).WillReturnResult(sqlmock.NewResult(0, 0))
	if !e.CheckHealth(context.Background()) {
		t.Fatal("CheckHealth() after recoverable abort = false")
	}

	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnError(errors.New("server closed the connection"))
	if e.CheckHealth(context.Background()) {
		t.Fatal("CheckHealth() broken = true")
	}
	assertSQLMock(t, mock)
}

func TestScopedClosesOnError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta(probeStatement)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	sentinel := errors.New("caller failed")
	err := Scoped(context.Background(), staticDialer(db), Options{}, func(e *Executor) error {
		if err := e.Connect(context.Background()); err != nil {
			return err
		}
		if !e.CheckHealth(context.Background()) {
			t.Fatal("CheckHealth() = false")
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Scoped() error = %v, want sentinel", err)
	}
	assertSQLMock(t, mock)
}

func staticDialer(db *sql.DB) Dialer {
	return func(context.Context) (*sql.DB, error) {
		return db, nil
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
