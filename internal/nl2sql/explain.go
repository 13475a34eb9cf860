package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgquery/pgquery/internal/database"
)

// MaxExplainRows bounds how many result rows are embedded in an explanation prompt.
const MaxExplainRows = 10

type Explainer struct {
	completer Completer
}

func NewExplainer(completer Completer) *Explainer {
	return &Explainer{completer: completer}
}

// ExplainResults asks the model to describe rows, or to diagnose queryErr when it is set.
func (e *Explainer) ExplainResults(ctx context.Context, question, sqlText string, rows []database.Row, queryErr error) (string, error) {
	var prompt string
	if queryErr != nil {
		prompt = buildErrorPrompt(question, sqlText, queryErr)
	} else {
		var err error
		prompt, err = buildResultsPrompt(question, sqlText, rows)
		if err != nil {
			return "", err
		}
	}

	explanation, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("complete explanation prompt: %w", err)
	}
	return strings.TrimSpace(explanation), nil
}

func buildErrorPrompt(question, sqlText string, queryErr error) string {
	return fmt.Sprintf(`
Question: %s

SQL Query: %s

Error: %s

Please explain what went wrong with this query in simple terms and suggest how to fix it.
Be specific about any syntax errors or invalid references.
`, question, sqlText, queryErr.Error())
}

func buildResultsPrompt(question, sqlText string, rows []database.Row) (string, error) {
	if len(rows) > MaxExplainRows {
		rows = rows[:MaxExplainRows]
	}
	encoded, err := json.MarshalIndent(jsonSafeRows(rows), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal explanation rows: %w", err)
	}
	return fmt.Sprintf(`
Question: %s

SQL Query: %s

Results: %s

Provide a natural language explanation of these results that directly answers the original question.
Keep your explanation clear, concise, and focused on what the user actually asked.
If the results contain a lot of data, summarize the key points.
`, question, sqlText, string(encoded)), nil
}

func jsonSafeRows(rows []database.Row) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.JSONSafe())
	}
	return out
}
