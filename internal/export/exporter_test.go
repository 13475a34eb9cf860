package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/storage"
)

func TestExportUploadsParquetRows(t *testing.T) {
	store := newMemoryStore()
	exporter := NewExporter(store, nil)

	at := time.Date(2026, time.March, 4, 17, 45, 0, 0, time.UTC)
	result, err := exporter.Export(context.Background(), Request{
		AnswerID: "3b241101-e2bb-4255-8caf-4136c566a962",
		Question: "top customers",
		SQL:      "SELECT name, total FROM customers",
		Columns:  []string{"name", "total"},
		Rows: []database.Row{
			{"name": "ada", "total": int64(120)},
			{"name": "grace", "total": nil},
		},
		At: at,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantKey := "exports/date=2026-03-04/hour=17/answer-3b241101-e2bb-4255-8caf-4136c566a962.parquet"
	if result.Key != wantKey || result.RowCount != 2 {
		t.Fatalf("result = %+v", result)
	}
	if store.contentTypes[wantKey] != ContentType {
		t.Fatalf("content type = %q", store.contentTypes[wantKey])
	}

	reader, info, err := exporter.Open(context.Background(), wantKey)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	if info.Size != result.Bytes {
		t.Fatalf("stat size = %d, want %d", info.Size, result.Bytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	rows := readParquet(t, data, 2)
	if rows[1].RowIndex != 1 || rows[1].Question != "top customers" || rows[1].SQL != "SELECT name, total FROM customers" {
		t.Fatalf("row = %+v", rows[1])
	}
	if rows[0].RowJSON != `{"name":"ada","total":120}` {
		t.Fatalf("row_json = %s", rows[0].RowJSON)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(rows[0].RowJSON), &decoded); err != nil {
		t.Fatalf("decode row_json: %v", err)
	}
	if decoded["name"] != "ada" || decoded["total"] != float64(120) {
		t.Fatalf("row_json = %v", decoded)
	}
}

func TestExportRejectsEmptyRowsAndBadID(t *testing.T) {
	exporter := NewExporter(newMemoryStore(), nil)
	if _, err := exporter.Export(context.Background(), Request{AnswerID: "a1", Rows: nil}); !errors.Is(err, ErrNoRows) {
		t.Fatalf("Export(no rows) error = %v, want ErrNoRows", err)
	}
	if _, err := exporter.Export(context.Background(), Request{AnswerID: "../x", Rows: []database.Row{{"a": 1}}}); err == nil {
		t.Fatal("Export(bad id) error = nil")
	}
}

func TestOpenRejectsKeysOutsideExports(t *testing.T) {
	exporter := NewExporter(newMemoryStore(), nil)
	if _, _, err := exporter.Open(context.Background(), "secrets/creds.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Open() error = %v, want ErrObjectNotFound", err)
	}
}

func readParquet(t *testing.T, data []byte, want int) []parquetRow {
	t.Helper()
	reader := parquet.NewGenericReader[parquetRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetRow, want)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != want {
		t.Fatalf("read rows = %d, want %d", count, want)
	}
	return rows
}

type memoryStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	m.contentTypes[key] = opts.ContentType
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func TestOrderedJSONFollowsColumns(t *testing.T) {
	got, err := orderedJSON([]string{"z", "a"}, database.Row{"a": 1, "z": "last", "m": true})
	if err != nil {
		t.Fatalf("orderedJSON() error = %v", err)
	}
	if string(got) != `{"z":"last","a":1,"m":true}` {
		t.Fatalf("orderedJSON() = %s", got)
	}
}
