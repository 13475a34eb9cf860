package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Row maps column name to the driver's native value.
type Row map[string]any

// ScanRows drains rows into column names and row maps. Columns and rows are never nil.
func ScanRows(rows *sql.Rows) ([]string, []Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	if columns == nil {
		columns = []string{}
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, result, nil
}

// JSONSafe copies the row, stringifying values that encoding/json cannot represent.
func (r Row) JSONSafe() map[string]any {
	safe := make(map[string]any, len(r))
	for column, value := range r {
		safe[column] = jsonSafeValue(value)
	}
	return safe
}

func jsonSafeValue(value any) any {
	switch typed := value.(type) {
	case nil, string, bool, int64:
		return typed
	case []byte:
		return string(typed)
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Sprint(value)
	}
	return value
}
