package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pgquery/pgquery/internal/database"
)

const humanSampleRows = 2

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

// RenderHuman describes the schema for people reading logs or the CLI.
func RenderHuman(info Info) string {
	var b strings.Builder
	b.WriteString("Database Schema:\n\n")

	for _, table := range info.Tables {
		b.WriteString("Table: " + table.Name)
		if table.Comment != "" {
			b.WriteString(" - " + table.Comment)
		}
		b.WriteString("\nColumns:\n")

		for _, column := range table.Columns {
			nullable := "NOT NULL"
			if column.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s", column.Name, column.Type, nullable)
			if column.Default != nil && *column.Default != "" {
				b.WriteString(", DEFAULT: " + *column.Default)
			}
			b.WriteString(")")
			if column.Comment != "" {
				b.WriteString(" - " + column.Comment)
			}
			b.WriteString("\n")
		}

		if keys := info.PrimaryKeys[table.Name]; len(keys) > 0 {
			b.WriteString("  Primary Key: " + strings.Join(keys, ", ") + "\n")
		}

		if sample := info.SampleData[table.Name]; len(sample) > 0 {
			b.WriteString("Sample data:\n")
			for i, row := range sample {
				if i >= humanSampleRows {
					break
				}
				fmt.Fprintf(&b, "  Row %d: %s\n", i+1, formatRow(table.Columns, row))
			}
		}
		b.WriteString("\n")
	}

	if len(info.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range info.Relationships {
			fmt.Fprintf(&b, "  - %s.%s references %s.%s\n", rel.Table, rel.Column, rel.ReferencesTable, rel.ReferencesColumn)
		}
	}
	return b.String()
}

// RenderForModel produces the Markdown schema embedded in completion prompts.
// Each column is exactly one table row; absent comments leave the cell empty.
func RenderForModel(info Info) string {
	var b strings.Builder
	b.WriteString("# Database Schema\n\n")

	for _, table := range info.Tables {
		b.WriteString("## Table: " + table.Name)
		if table.Comment != "" {
			b.WriteString(" - " + escapeCell(table.Comment))
		}
		b.WriteString("\n\n")
		b.WriteString("| Column Name | Type | Description |\n")
		b.WriteString("|------------|------|-------------|\n")
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", escapeCell(column.Name), escapeCell(column.Type), escapeCell(column.Comment))
		}
		b.WriteString("\n")
	}

	if len(info.Relationships) > 0 {
		b.WriteString("## Relationships\n\n")
		for _, rel := range info.Relationships {
			fmt.Fprintf(&b, "- %s.%s → %s.%s\n", rel.Table, rel.Column, rel.ReferencesTable, rel.ReferencesColumn)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func escapeCell(value string) string {
	return cellEscaper.Replace(value)
}

func formatRow(columns []Column, row database.Row) string {
	parts := make([]string, 0, len(row))
	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		value, ok := row[column.Name]
		if !ok {
			continue
		}
		seen[column.Name] = struct{}{}
		parts = append(parts, column.Name+"="+formatValue(value))
	}
	extra := make([]string, 0)
	for name := range row {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		parts = append(parts, name+"="+formatValue(row[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}
