package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pgquery/pgquery/internal/api"
	"github.com/pgquery/pgquery/internal/assistant"
	"github.com/pgquery/pgquery/internal/config"
	"github.com/pgquery/pgquery/internal/database"
	"github.com/pgquery/pgquery/internal/executor"
	"github.com/pgquery/pgquery/internal/export"
	historypostgres "github.com/pgquery/pgquery/internal/history/postgres"
	"github.com/pgquery/pgquery/internal/nl2sql"
	"github.com/pgquery/pgquery/internal/observability"
	s3store "github.com/pgquery/pgquery/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("pgquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	dbConfig := database.DBConfig{
		DSN:          cfg.Database.ConnString(),
		MaxOpenConns: 4,
		PingTimeout:  cfg.Database.ConnectTimeout,
	}
	schemaDB, err := database.Open(context.Background(), dbConfig)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = schemaDB.Close() }()

	exec := executor.New(executor.DialDSN(dbConfig), executor.Options{ReadOnly: cfg.Query.ReadOnly, Logger: logger})
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Warn("failed to close executor", slog.Any("error", err))
		}
	}()

	completer, provider, model, err := newCompleter(cfg)
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	deps := assistant.Dependencies{
		Schema:     schemaReflector(schemaDB, cfg, logger),
		Translator: nl2sql.NewTranslator(completer, nl2sql.TranslatorOptions{Provider: provider, Model: model, Logger: logger}),
		Explainer:  nl2sql.NewExplainer(completer),
		Executor:   exec,
		Logger:     logger,
	}

	var historyRepo *historypostgres.Repository
	if cfg.History.DSN != "" {
		historyDB, err := database.Open(context.Background(), database.DBConfig{DSN: cfg.History.DSN, MaxOpenConns: 4})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		historyRepo = historypostgres.NewRepository(historyDB)
		deps.History = historyRepo
	}

	var objectStore *s3store.Store
	if cfg.Export.Enabled {
		objectStore, err = s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = export.NewExporter(objectStore, logger)
	}

	svc, err := assistant.NewService(deps)
	if err != nil {
		logger.Error("failed to initialize assistant", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{svc.Ready}
	if objectStore != nil {
		readiness = append(readiness, objectStore.HealthCheck)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:           logger,
		Assistant:        svc,
		Readiness:        api.CombineReadinessChecks(readiness...),
		DependencyTimout: cfg.Database.ConnectTimeout,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("provider", provider),
			slog.Bool("read_only", cfg.Query.ReadOnly),
			slog.Bool("history", historyRepo != nil),
			slog.Bool("export", objectStore != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
