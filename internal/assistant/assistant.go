package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/executor"
	"github.com/pgquery/pgquery/internal/export"
	"github.com/pgquery/pgquery/internal/history"
	"github.com/pgquery/pgquery/internal/nl2sql"
	"github.com/pgquery/pgquery/internal/schema"
	"github.com/pgquery/pgquery/internal/storage"
)

var (
	ErrQuestionRequired = errors.New("question is required")
	ErrHistoryDisabled  = errors.New("history is not configured")
	ErrExportDisabled   = errors.New("export is not configured")
)

type SchemaSource interface {
	BuildInfo(ctx context.Context) (schema.Info, error)
}

type Translator interface {
	Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
}

type Explainer interface {
	ExplainResults(ctx context.Context, question, sqlText string, rows []database.Row, queryErr error) (string, error)
}

type StatementExecutor interface {
	Connect(ctx context.Context) error
	Execute(ctx context.Context, sqlText string) (executor.Result, error)
	CheckHealth(ctx context.Context) bool
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (export.Result, error)
	Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

type Dependencies struct {
	Schema     SchemaSource
	Translator Translator
	Explainer  Explainer
	Executor   StatementExecutor
	History    history.Store
	Exporter   Exporter
	Logger     *slog.Logger
}

type AskRequest struct {
	Question string
	Explain  bool
	Export   bool
}

// Answer is the outcome of one question. Statement failures are reported in Error,
// not as a Go error, so they can be explained and recorded.
type Answer struct {
	ID          string         `json:"id"`
	Question    string         `json:"question"`
	SQL         string         `json:"sql"`
	RawResponse string         `json:"raw_response"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model,omitempty"`
	NoSQL       bool           `json:"no_sql"`
	Columns     []string       `json:"columns"`
	Rows        []database.Row `json:"rows"`
	Error       string         `json:"error,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	ExportPath  string         `json:"export_path,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Service runs the question pipeline. The executor holds a single connection, so
// every call that touches it is serialized.
type Service struct {
	schema     SchemaSource
	translator Translator
	explainer  Explainer
	history    history.Store
	exporter   Exporter
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time

	mu       sync.Mutex
	executor StatementExecutor
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Schema == nil || deps.Translator == nil || deps.Explainer == nil || deps.Executor == nil {
		return nil, fmt.Errorf("schema, translator, explainer and executor are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		schema:     deps.Schema,
		translator: deps.Translator,
		explainer:  deps.Explainer,
		executor:   deps.Executor,
		history:    deps.History,
		exporter:   deps.Exporter,
		logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
	}, nil
}

func (s *Service) Schema(ctx context.Context) (schema.Info, error) {
	info, err := s.schema.BuildInfo(ctx)
	if err != nil {
		return schema.Info{}, fmt.Errorf("build schema info: %w", err)
	}
	return info, nil
}

// Translate reflects the schema and asks the model for SQL without executing it.
func (s *Service) Translate(ctx context.Context, question string) (nl2sql.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nl2sql.Result{}, ErrQuestionRequired
	}
	info, err := s.Schema(ctx)
	if err != nil {
		return nl2sql.Result{}, err
	}
	result, err := s.translator.Translate(ctx, nl2sql.Request{Question: question, Schema: schema.RenderForModel(info)})
	if err != nil {
		return nl2sql.Result{}, fmt.Errorf("translate question: %w", err)
	}
	return result, nil
}

// Query runs a caller-supplied statement on the shared executor.
func (s *Service) Query(ctx context.Context, sqlText string) (executor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executor.Execute(ctx, sqlText)
}

func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	start := s.now()
	translated, err := s.Translate(ctx, req.Question)
	if err != nil {
		return Answer{}, err
	}

	answer := Answer{
		ID:          s.newID(),
		Question:    strings.TrimSpace(req.Question),
		SQL:         translated.SQL,
		RawResponse: translated.Raw,
		Provider:    translated.Provider,
		Model:       translated.Model,
		Columns:     []string{},
		Rows:        []database.Row{},
		CreatedAt:   start.UTC(),
	}

	if translated.SQL == "" {
		answer.NoSQL = true
		s.finish(ctx, &answer, start)
		return answer, nil
	}

	result, execErr := s.Query(ctx, translated.SQL)
	var connErr *executor.ConnectionError
	if errors.As(execErr, &connErr) {
		return Answer{}, execErr
	}
	if execErr != nil {
		answer.Error = execErr.Error()
	} else {
		answer.Columns = result.Columns
		answer.Rows = result.Rows
	}

	if req.Explain {
		explanation, err := s.explainer.ExplainResults(ctx, answer.Question, answer.SQL, answer.Rows, execErr)
		if err != nil {
			return Answer{}, fmt.Errorf("explain results: %w", err)
		}
		answer.Explanation = explanation
	}

	if req.Export && execErr == nil {
		s.export(ctx, &answer)
	}

	s.finish(ctx, &answer, start)
	return answer, nil
}

// Ready reports whether the executor can serve statements and history is reachable.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.Lock()
	err := s.executor.Connect(ctx)
	healthy := err == nil && s.executor.CheckHealth(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("database connection is unhealthy")
	}
	if s.history != nil {
		if err := s.history.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, limit)
}

func (s *Service) OpenExport(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if s.exporter == nil {
		return nil, storage.ObjectInfo{}, ErrExportDisabled
	}
	return s.exporter.Open(ctx, key)
}

func (s *Service) export(ctx context.Context, answer *Answer) {
	if s.exporter == nil {
		s.logger.InfoContext(ctx, "export_skipped", slog.String("answer_id", answer.ID), slog.String("reason", "disabled"))
		return
	}
	if len(answer.Rows) == 0 {
		return
	}
	result, err := s.exporter.Export(ctx, export.Request{
		AnswerID: answer.ID,
		Question: answer.Question,
		SQL:      answer.SQL,
		Columns:  answer.Columns,
		Rows:     answer.Rows,
		At:       answer.CreatedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "export_failed", slog.String("answer_id", answer.ID), slog.Any("error", err))
		return
	}
	answer.ExportPath = result.Key
}

func (s *Service) finish(ctx context.Context, answer *Answer, start time.Time) {
	answer.DurationMs = s.now().Sub(start).Milliseconds()
	s.logger.InfoContext(ctx, "question_answered",
		slog.String("answer_id", answer.ID),
		slog.Bool("no_sql", answer.NoSQL),
		slog.Int("rows", len(answer.Rows)),
		slog.Bool("failed", answer.Error != ""),
		slog.Int64("duration_ms", answer.DurationMs),
	)
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(ctx, history.Entry{
		ID:          answer.ID,
		Question:    answer.Question,
		SQL:         answer.SQL,
		RawResponse: answer.RawResponse,
		Error:       answer.Error,
		Explanation: answer.Explanation,
		RowCount:    len(answer.Rows),
		ExportPath:  answer.ExportPath,
	}); err != nil {
		s.logger.WarnContext(ctx, "history_record_failed", slog.String("answer_id", answer.ID), slog.Any("error", err))
	}
}
