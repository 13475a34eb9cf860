package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/storage"
)

const ContentType = "application/vnd.apache.parquet"

var ErrNoRows = errors.New("no rows to export")

type Request struct {
	AnswerID string
	Question string
	SQL      string
	Columns  []string
	Rows     []database.Row
	At       time.Time
}

type Result struct {
	Key      string `json:"key"`
	RowCount int    `json:"row_count"`
	Bytes    int64  `json:"bytes"`
}

// Exporter uploads answer rows as parquet files to an object store.
type Exporter struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewExporter(store storage.ObjectStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{store: store, logger: logger, now: time.Now}
}

func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	at := req.At
	if at.IsZero() {
		at = e.now()
	}
	key, err := storage.BuildExportPath(req.AnswerID, at)
	if err != nil {
		return Result{}, err
	}
	data, err := EncodeRows(req.Question, req.SQL, req.Columns, req.Rows)
	if err != nil {
		return Result{}, err
	}

	info, err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: ContentType})
	if err != nil {
		return Result{}, fmt.Errorf("upload export: %w", err)
	}
	e.logger.InfoContext(ctx, "answer_exported",
		slog.String("key", key),
		slog.Int("rows", len(req.Rows)),
		slog.Int64("bytes", info.Size),
	)
	return Result{Key: key, RowCount: len(req.Rows), Bytes: int64(len(data))}, nil
}

// Open streams a previously exported file.
func (e *Exporter) Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if !storage.IsExportPath(key) {
		return nil, storage.ObjectInfo{}, fmt.Errorf("%w: %q", storage.ErrObjectNotFound, key)
	}
	info, err := e.store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return reader, info, nil
}
