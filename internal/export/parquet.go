package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/pgquery/pgquery/internal/database"
)

type parquetRow struct {
	RowIndex int64  `parquet:"row_index"`
	Question string `parquet:"question"`
	SQL      string `parquet:"sql"`
	RowJSON  string `parquet:"row_json"`
}

// EncodeRows writes one parquet row per result row. Each row is kept as a JSON object
// with keys in column order, since result shapes differ per statement.
func EncodeRows(question, sqlText string, columns []string, rows []database.Row) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	encoded := make([]parquetRow, 0, len(rows))
	for i, row := range rows {
		payload, err := orderedJSON(columns, row)
		if err != nil {
			return nil, fmt.Errorf("marshal row %d: %w", i, err)
		}
		encoded = append(encoded, parquetRow{
			RowIndex: int64(i),
			Question: question,
			SQL:      sqlText,
			RowJSON:  string(payload),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if _, err := writer.Write(encoded); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// orderedJSON encodes row with the listed columns first, then any others sorted by name.
func orderedJSON(columns []string, row database.Row) ([]byte, error) {
	safe := row.JSONSafe()
	keys := make([]string, 0, len(safe))
	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		if _, ok := safe[column]; ok {
			if _, dup := seen[column]; !dup {
				keys = append(keys, column)
				seen[column] = struct{}{}
			}
		}
	}
	rest := make([]string, 0)
	for key := range safe {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(safe[key])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
