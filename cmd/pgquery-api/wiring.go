package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pgquery/pgquery/internal/config"
	"github.com/pgquery/pgquery/internal/nl2sql"
	"github.com/pgquery/pgquery/internal/schema"
)

func newCompleter(cfg config.Config) (nl2sql.Completer, string, string, error) {
	switch cfg.Completion.Provider {
	case config.ProviderOpenAI:
		client, err := nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
			BaseURL:     cfg.Completion.OpenAIBaseURL,
			APIKey:      cfg.Completion.OpenAIAPIKey,
			Model:       cfg.Completion.OpenAIModel,
			Temperature: cfg.Completion.Temperature,
			Timeout:     cfg.Completion.Timeout,
		})
		if err != nil {
			return nil, "", "", err
		}
		return client, nl2sql.ProviderOpenAI, client.Model(), nil
	case config.ProviderLlama:
		client, err := nl2sql.NewLlamaClient(nl2sql.LlamaConfig{
			BaseURL:           cfg.Completion.BaseURL(),
			Temperature:       cfg.Completion.Temperature,
			RepetitionPenalty: cfg.Completion.RepetitionPenalty,
			NPredict:          cfg.Completion.NPredict,
			Timeout:           cfg.Completion.Timeout,
		})
		if err != nil {
			return nil, "", "", err
		}
		return client, nl2sql.ProviderLlama, "", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported completion provider %q", cfg.Completion.Provider)
	}
}

func schemaReflector(db *sql.DB, cfg config.Config, logger *slog.Logger) *schema.Reflector {
	return schema.NewReflector(db, schema.Options{SampleRows: cfg.Schema.SampleRows, Logger: logger})
}
