package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pgquery/pgquery/internal/history"
)

type Repository struct {
	db    *sql.DB
	newID func() string
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, newID: func() string { return uuid.NewString() }}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// Record inserts entry, assigning an ID when it has none.
func (r *Repository) Record(ctx context.Context, entry history.Entry) (history.Entry, error) {
	if strings.TrimSpace(entry.Question) == "" {
		return history.Entry{}, fmt.Errorf("%w: question is required", history.ErrInvalidEntry)
	}
	if entry.ID == "" {
		entry.ID = r.newID()
	} else if _, err := uuid.Parse(entry.ID); err != nil {
		return history.Entry{}, fmt.Errorf("%w: id %q: %v", history.ErrInvalidEntry, entry.ID, err)
	}

	query := `
INSERT INTO query_history (id, question, sql_text, raw_response, error_text, explanation, row_count, export_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query,
		entry.ID,
		entry.Question,
		entry.SQL,
		entry.RawResponse,
		entry.Error,
		entry.Explanation,
		entry.RowCount,
		entry.ExportPath,
	).Scan(&createdAt); err != nil {
		return history.Entry{}, fmt.Errorf("record history entry: %w", err)
	}
	entry.CreatedAt = createdAt.UTC()
	return entry, nil
}

// List returns the newest entries first.
func (r *Repository) List(ctx context.Context, limit int) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, question, sql_text, raw_response, error_text, explanation, row_count, export_path, created_at
FROM query_history
ORDER BY created_at DESC, id DESC
LIMIT $1`, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var entry history.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.Question,
			&entry.SQL,
			&entry.RawResponse,
			&entry.Error,
			&entry.Explanation,
			&entry.RowCount,
			&entry.ExportPath,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}
