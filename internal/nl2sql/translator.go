package nl2sql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pgquery/pgquery/internal/observability"
)

type Request struct {
	Question string `json:"question"`
	Schema   string `json:"schema"`
}

// Result holds the extracted statement and the raw model text. An empty SQL means the
// model produced no fenced block; callers must not execute anything in that case.
type Result struct {
	SQL      string `json:"sql"`
	Raw      string `json:"raw"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

type TranslatorOptions struct {
	Provider string
	Model    string
	Logger   *slog.Logger
}

type Translator struct {
	completer Completer
	provider  string
	model     string
	logger    *slog.Logger
}

func NewTranslator(completer Completer, opts TranslatorOptions) *Translator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	provider := opts.Provider
	if provider == "" {
		provider = ProviderLlama
	}
	return &Translator{completer: completer, provider: provider, model: opts.Model, logger: logger}
}

func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}

	raw, err := t.completer.Complete(ctx, BuildSQLPrompt(question, req.Schema))
	if err != nil {
		return Result{}, fmt.Errorf("complete sql prompt: %w", err)
	}

	sqlText := ExtractSQL(raw)
	if sqlText == "" {
		observability.IncrementSQLExtractEmpty()
		t.logger.InfoContext(ctx, "sql_not_extracted", slog.Int("response_len", len(raw)))
	}
	return Result{SQL: sqlText, Raw: raw, Provider: t.provider, Model: t.model}, nil
}

// BuildSQLPrompt embeds the model-oriented schema text and the question.
func BuildSQLPrompt(question, schemaText string) string {
	return fmt.Sprintf(`You are a PostgreSQL expert. Use the schema below to write one SQL query that answers the question.

%s
Question: %s

Rules:
- Use only the tables and columns listed in the schema.
- Prefer explicit columns over SELECT *.
- Add LIMIT 200 unless the question asks for every row.
- Return the query inside a single `+"```sql"+` fenced block.
`, strings.TrimSpace(schemaText)+"\n", strings.TrimSpace(question))
}
