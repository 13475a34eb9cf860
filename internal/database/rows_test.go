package database

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestScanRowsBuildsRowMaps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ada").
			AddRow(int64(2), "grace"))

	rows, err := db.QueryContext(context.Background(), "SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer func() { _ = rows.Close() }()

	columns, result, err := ScanRows(rows)
	if err != nil {
		t.Fatalf("ScanRows() error = %v", err)
	}
	if len(columns) != 2 || columns[0] != "id" || columns[1] != "name" {
		t.Fatalf("columns = %v", columns)
	}
	if len(result) != 2 {
		t.Fatalf("row count = %d", len(result))
	}
	if result[1]["name"] != "grace" || result[0]["id"] != int64(1) {
		t.Fatalf("rows = %#v", result)
	}
}

func TestScanRowsWithoutResultSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("CREATE TABLE").WillReturnRows(sqlmock.NewRows([]string{}))

	rows, err := db.QueryContext(context.Background(), "CREATE TABLE t(x int)")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer func() { _ = rows.Close() }()

	columns, result, err := ScanRows(rows)
	if err != nil {
		t.Fatalf("ScanRows() error = %v", err)
	}
	if columns == nil || len(columns) != 0 {
		t.Fatalf("columns = %#v, want empty non-nil", columns)
	}
	if result == nil || len(result) != 0 {
		t.Fatalf("rows = %#v, want empty non-nil", result)
	}
}

func TestRowJSONSafe(t *testing.T) {
	row := Row{"n": int64(1), "raw": []byte("abc"), "inf": math.Inf(-1), "none": nil, "ok": 1.5}
	safe := row.JSONSafe()
	if safe["raw"] != "abc" || safe["inf"] != "-Inf" || safe["none"] != nil || safe["ok"] != 1.5 || safe["n"] != int64(1) {
		t.Fatalf("JSONSafe() = %#v", safe)
	}
	if _, err := json.Marshal(safe); err != nil {
		t.Fatalf("json.Marshal(JSONSafe()) error = %v", err)
	}
}
