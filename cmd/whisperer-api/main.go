package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"google.golang.org/api/option"

	"github.com/whisperer/whisperer/internal/api"
	"github.com/whisperer/whisperer/internal/assistant"
	"github.com/whisperer/whisperer/internal/auth"
	"github.com/whisperer/whisperer/internal/brands"
	"github.com/whisperer/whisperer/internal/config"
	"github.com/whisperer/whisperer/internal/export"
	"github.com/whisperer/whisperer/internal/llm"
	"github.com/whisperer/whisperer/internal/nl2query"
	"github.com/whisperer/whisperer/internal/observability"
	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/report/duckdb"
	"github.com/whisperer/whisperer/internal/report/ga4"
	"github.com/whisperer/whisperer/internal/session"
	sessionpostgres "github.com/whisperer/whisperer/internal/session/postgres"
	"github.com/whisperer/whisperer/internal/storage"
	s3store "github.com/whisperer/whisperer/internal/storage/s3"
	"github.com/whisperer/whisperer/internal/summarize"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("whisperer-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()

	sessions, closeSessions, err := openSessionStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer closeSessions()
	if pruner, ok := sessions.(session.IdlePruner); ok {
		go pruneIdleSessions(ctx, pruner, cfg.Sessions.IdleTTL, logger)
	}

	safety, err := llm.ParseSafetyThreshold(cfg.LLM.SafetyThreshold)
	if err != nil {
		return err
	}
	model, err := llm.New(ctx, llm.Config{
		Provider:        cfg.LLM.Provider,
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Safety:          safety,
		Timeout:         cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize llm client: %w", err)
	}

	translator, err := nl2query.NewLLMTranslator(nl2query.Config{
		LLM:             model,
		Logger:          logger,
		Clock:           clock,
		HistoryTurns:    cfg.Sessions.HistoryTurns,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("initialize translator: %w", err)
	}

	// The object store is optional unless the duckdb backend or objectstore
	// exports need it.
	var objects storage.ObjectStore
	if cfg.Analytics.Backend == "duckdb" || cfg.Export.Target == "objectstore" {
		store, err := s3store.New(ctx, s3store.Config{
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
			return fmt.Errorf("initialize object store: %w", err)
		}
		objects = store
	}

	backend, err := openReportBackend(ctx, cfg, objects, clock)
	if err != nil {
		return err
	}
	executor := &boundedExecutor{
		next:    report.NewExecutor(backend, logger, int64(cfg.Analytics.DefaultLimit)),
		timeout: cfg.Analytics.Timeout,
	}

	asst, err := assistant.New(assistant.Config{
		Sessions:     sessions,
		Translator:   translator,
		Executor:     executor,
		Summarizer:   summarize.New(model, logger, cfg.LLM.SummaryTemperature, cfg.LLM.MaxOutputTokens),
		LLM:          model,
		Logger:       logger,
		Clock:        clock,
		HistoryTurns: cfg.Sessions.HistoryTurns,
		MaxTokens:    cfg.LLM.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("initialize assistant: %w", err)
	}

	lister, err := openBrandLister(ctx, cfg)
	if err != nil {
		return err
	}

	exporters, err := openExporters(ctx, cfg, objects, clock)
	if err != nil {
		return err
	}
	recorder, _ := sessions.(session.ExportRecorder)

	readiness := []api.ReadinessCheck{api.CheckSessionStore(sessions)}
	if objects != nil {
		readiness = append(readiness, api.CheckObjectStoreConfig(cfg))
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Sessions:          sessions,
		Assistant:         asst,
		Brands:            brands.NewCached(lister, cfg.Brands.CacheTTL, logger),
		Exports:           export.NewService(logger, recorder, exporters...),
		Translator:        translator,
		Reports:           executor,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("llm_provider", model.Provider()),
			slog.String("llm_model", model.Model()),
			slog.String("analytics_backend", backend.Name()),
			slog.String("session_backend", cfg.Sessions.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openSessionStore(ctx context.Context, cfg config.Config, clock clockwork.Clock) (session.Store, func(), error) {
	if cfg.Sessions.Backend == "memory" {
		store := session.NewMemoryStore(cfg.Sessions.IdleTTL, clock)
		store.Start()
		return store, store.Stop, nil
	}

	db, err := sessionpostgres.Open(ctx, sessionpostgres.DBConfig{
		DSN:             cfg.Sessions.DSN,
		MaxOpenConns:    cfg.Sessions.MaxOpenConns,
		MaxIdleConns:    cfg.Sessions.MaxIdleConns,
		ConnMaxIdleTime: cfg.Sessions.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Sessions.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open session db: %w", err)
	}
	return sessionpostgres.NewStore(db, clock), func() { _ = db.Close() }, nil
}

// pruneIdleSessions sweeps the store until ctx is done. The sweep runs at a
// quarter of the idle TTL, with a one minute floor.
func pruneIdleSessions(ctx context.Context, pruner session.IdlePruner, idle time.Duration, logger *slog.Logger) {
	if idle <= 0 {
		return
	}
	interval := max(idle/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := pruner.PruneIdle(ctx, idle)
			if err != nil {
				logger.Warn("idle session sweep failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Info("idle sessions pruned", slog.Int64("removed", removed))
			}
		}
	}
}

func openReportBackend(ctx context.Context, cfg config.Config, objects storage.ObjectStore, clock clockwork.Clock) (report.Backend, error) {
	switch cfg.Analytics.Backend {
	case "duckdb":
		backend, err := duckdb.NewBackend(objects, cfg.Analytics.DatasetKey, clock)
		if err != nil {
			return nil, fmt.Errorf("initialize duckdb backend: %w", err)
		}
		return backend, nil
	default:
		backend, err := ga4.NewBackend(ctx, googleOptions(cfg.Analytics.CredentialsFile)...)
		if err != nil {
			return nil, fmt.Errorf("initialize analytics data client: %w", err)
		}
		return backend, nil
	}
}

func openBrandLister(ctx context.Context, cfg config.Config) (brands.Lister, error) {
	if cfg.Brands.Source == "static" {
		static, err := brands.ParseStatic(cfg.Brands.Static)
		if err != nil {
			return nil, fmt.Errorf("parse static brands: %w", err)
		}
		return static, nil
	}
	admin, err := brands.NewAdminLister(ctx, googleOptions(cfg.Analytics.CredentialsFile)...)
	if err != nil {
		return nil, fmt.Errorf("initialize analytics admin client: %w", err)
	}
	return admin, nil
}

func openExporters(ctx context.Context, cfg config.Config, objects storage.ObjectStore, clock clockwork.Clock) ([]export.Exporter, error) {
	switch cfg.Export.Target {
	case "objectstore":
		exporter, err := export.NewObjectStoreExporter(objects, cfg.Export.Prefix, cfg.Export.PresignExpiry, clock)
		if err != nil {
			return nil, fmt.Errorf("initialize object store exporter: %w", err)
		}
		return []export.Exporter{exporter}, nil
	case "sheets":
		exporter, err := export.NewSheetsExporter(ctx, googleOptions(cfg.Export.CredentialsFile)...)
		if err != nil {
			return nil, fmt.Errorf("initialize sheets exporter: %w", err)
		}
		return []export.Exporter{exporter}, nil
	default:
		return nil, nil
	}
}

// googleOptions falls back to application default credentials when no file
// is configured.
func googleOptions(credentialsFile string) []option.ClientOption {
	if credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// boundedExecutor caps each report fetch at the configured analytics timeout.
type boundedExecutor struct {
	next    *report.Executor
	timeout time.Duration
}

func (b *boundedExecutor) Execute(ctx context.Context, propertyID string, q report.Query) (report.Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.next.Execute(ctx, propertyID, q)
}
