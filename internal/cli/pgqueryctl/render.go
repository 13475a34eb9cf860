package pgqueryctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type rowSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

type answerBody struct {
	rowSet
	SQL         string `json:"sql"`
	RawResponse string `json:"raw_response"`
	NoSQL       bool   `json:"no_sql"`
	Error       string `json:"error"`
	Explanation string `json:"explanation"`
	ExportPath  string `json:"export_path"`
}

type historyBody struct {
	Entries []struct {
		ID        string `json:"id"`
		Question  string `json:"question"`
		SQL       string `json:"sql"`
		Error     string `json:"error"`
		RowCount  int    `json:"row_count"`
		CreatedAt string `json:"created_at"`
	} `json:"entries"`
}

func renderText(w io.Writer, body []byte) error {
	_, err := w.Write(body)
	return err
}

func renderQuery(w io.Writer, body []byte) error {
	var rs rowSet
	if err := decode(body, &rs); err != nil {
		return err
	}
	renderRows(w, rs.Columns, rs.Rows)
	return nil
}

func renderTranslate(w io.Writer, body []byte) error {
	var translated struct {
		SQL         string `json:"sql"`
		RawResponse string `json:"raw_response"`
	}
	if err := decode(body, &translated); err != nil {
		return err
	}
	if translated.SQL == "" {
		_, _ = fmt.Fprintln(w, "No SQL found in the model response:")
		_, _ = fmt.Fprintln(w, translated.RawResponse)
		return nil
	}
	_, _ = fmt.Fprintln(w, translated.SQL)
	return nil
}

func renderAnswer(w io.Writer, body []byte) error {
	var answer answerBody
	if err := decode(body, &answer); err != nil {
		return err
	}
	if answer.NoSQL {
		_, _ = fmt.Fprintln(w, "No SQL found in the model response:")
		_, _ = fmt.Fprintln(w, answer.RawResponse)
		return nil
	}

	_, _ = fmt.Fprintf(w, "SQL: %s\n\n", answer.SQL)
	if answer.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", answer.Error)
	} else {
		renderRows(w, answer.Columns, answer.Rows)
	}
	if answer.Explanation != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", answer.Explanation)
	}
	if answer.ExportPath != "" {
		_, _ = fmt.Fprintf(w, "\nExported to %s\n", answer.ExportPath)
	}
	return nil
}

func renderHistory(w io.Writer, body []byte) error {
	var entries historyBody
	if err := decode(body, &entries); err != nil {
		return err
	}
	if len(entries.Entries) == 0 {
		_, _ = fmt.Fprintln(w, "(no history)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"created_at", "question", "sql", "rows", "error"})
	for _, entry := range entries.Entries {
		t.AppendRow(table.Row{entry.CreatedAt, entry.Question, entry.SQL, entry.RowCount, entry.Error})
	}
	t.Render()
	return nil
}

// renderRows prints rows in column order. Keys missing from columns are appended sorted.
func renderRows(w io.Writer, columns []string, rows []map[string]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	cols := mergeColumns(columns, rows)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, result := range rows {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[i] = formatValue(result[col])
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func mergeColumns(columns []string, rows []map[string]any) []string {
	seen := make(map[string]struct{}, len(columns))
	merged := append([]string(nil), columns...)
	for _, col := range columns {
		seen[col] = struct{}{}
	}
	var extra []string
	for _, row := range rows {
		for key := range row {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(merged, extra...)
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case map[string]any, []any:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func decode(body []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
