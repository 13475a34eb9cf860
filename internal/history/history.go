package history

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidEntry = errors.New("invalid history entry")

const (
	DefaultListLimit = 20
	MaxListLimit     = 500
)

// Entry records one question and what the assistant did with it.
type Entry struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	SQL         string    `json:"sql"`
	RawResponse string    `json:"raw_response,omitempty"`
	Error       string    `json:"error,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	RowCount    int       `json:"row_count"`
	ExportPath  string    `json:"export_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	HealthCheck(ctx context.Context) error
}

// ClampLimit maps a requested page size onto [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
