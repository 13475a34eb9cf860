package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pgquery/pgquery/internal/assistant"
	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/executor"
	"github.com/pgquery/pgquery/internal/export"
	"github.com/pgquery/pgquery/internal/history"
	"github.com/pgquery/pgquery/internal/schema"
	"github.com/pgquery/pgquery/internal/storage"
)

type queryRequest struct {
	SQL string `json:"sql"`
}

type translateRequest struct {
	Question string `json:"question"`
}

type askRequest struct {
	Question string `json:"question"`
	Explain  *bool  `json:"explain"`
	Export   bool   `json:"export"`
}

type queryResponse struct {
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"row_count"`
	DurationMs int64            `json:"duration_ms"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeNotConfigured(w, r)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "human" && format != "model" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", "format must be json, human or model", false, map[string]any{"format": format})
		return
	}

	info, err := deps.Assistant.Schema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to reflect schema", true, map[string]any{"details": err.Error()})
		return
	}

	switch format {
	case "human":
		writeText(w, schema.RenderHuman(info))
	case "model":
		writeText(w, schema.RenderForModel(info))
	default:
		writeJSON(w, http.StatusOK, newSchemaResponse(info))
	}
}

// schemaResponse shadows SampleData so sample values encode like query rows.
type schemaResponse struct {
	schema.Info
	SampleData map[string][]map[string]any `json:"sample_data"`
}

func newSchemaResponse(info schema.Info) schemaResponse {
	samples := make(map[string][]map[string]any, len(info.SampleData))
	for table, rows := range info.SampleData {
		samples[table] = jsonRows(rows)
	}
	return schemaResponse{Info: info, SampleData: samples}
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeNotConfigured(w, r)
		return
	}

	var request queryRequest
	if !decodeBody(w, r, &request, "invalid query request body") {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	result, err := deps.Assistant.Query(r.Context(), request.SQL)
	if err != nil {
		writeExecutionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns:    result.Columns,
		Rows:       jsonRows(result.Rows),
		RowCount:   len(result.Rows),
		DurationMs: result.Duration.Milliseconds(),
	})
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeNotConfigured(w, r)
		return
	}

	var request translateRequest
	if !decodeBody(w, r, &request, "invalid translation request body") {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Assistant.Translate(r.Context(), request.Question)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate question", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":          result.SQL,
		"raw_response": result.Raw,
		"provider":     result.Provider,
		"model":        result.Model,
		"no_sql":       result.SQL == "",
	})
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeNotConfigured(w, r)
		return
	}

	var request askRequest
	if !decodeBody(w, r, &request, "invalid ask request body") {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	explain := true
	if request.Explain != nil {
		explain = *request.Explain
	}

	answer, err := deps.Assistant.Ask(r.Context(), assistant.AskRequest{
		Question: request.Question,
		Explain:  explain,
		Export:   request.Export,
	})
	if err != nil {
		var connErr *executor.ConnectionError
		if errors.As(err, &connErr) {
			writeExecutionError(w, r, err)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "ASK_FAILED", "failed to answer question", true, map[string]any{"details": err.Error()})
		return
	}

	rows := answer.Rows
	writeJSON(w, http.StatusOK, struct {
		assistant.Answer
		Rows     []map[string]any `json:"rows"`
		RowCount int              `json:"row_count"`
	}{Answer: answer, Rows: jsonRows(rows), RowCount: len(rows)})
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeNotConfigured(w, r)
		return
	}
	limit := history.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	entries, err := deps.Assistant.History(r.Context(), limit)
	if err != nil {
		if errors.Is(err, assistant.ErrHistoryDisabled) {
			writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_FETCH_FAILED", "failed to list history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func handleExportDownload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeNotConfigured(w, r)
		return
	}
	key := r.PathValue("key")

	body, info, err := deps.Assistant.OpenExport(r.Context(), key)
	switch {
	case errors.Is(err, assistant.ErrExportDisabled):
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", err.Error(), false, nil)
		return
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export not found", false, map[string]any{"key": key})
		return
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FETCH_FAILED", "failed to open export", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", export.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func writeExecutionError(w http.ResponseWriter, r *http.Request, err error) {
	var connErr *executor.ConnectionError
	if errors.As(err, &connErr) {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "database connection failed", true, map[string]any{"details": err.Error()})
		return
	}
	if errors.Is(err, executor.ErrStatementNotAllowed) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only statements are allowed", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
}

func writeNotConfigured(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant dependency is not configured", false, nil)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any, message string) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", message, false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func jsonRows(rows []database.Row) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.JSONSafe())
	}
	return out
}
