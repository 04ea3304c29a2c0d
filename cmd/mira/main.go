package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bowerhall/mira/internal/agent"
	"github.com/bowerhall/mira/internal/budget"
	"github.com/bowerhall/mira/internal/config"
	"github.com/bowerhall/mira/internal/cron"
	"github.com/bowerhall/mira/internal/embedder"
	"github.com/bowerhall/mira/internal/llm"
	"github.com/bowerhall/mira/internal/logger"
	"github.com/bowerhall/mira/internal/memory"
	"github.com/bowerhall/mira/internal/server"
	"github.com/bowerhall/mira/internal/status"
	"github.com/bowerhall/mira/internal/storage"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	logger.SetOutput(os.Stderr, cfg.Debug, cfg.LogFormat)

	store, err := memory.Open(cfg.Memory.Path, memory.Options{
		Dimension:   cfg.Embedder.Dimension,
		Metric:      memory.Metric(cfg.Memory.Metric),
		Development: cfg.Development(),
		QueriesDir:  cfg.Memory.QueriesDir,
	})
	if err != nil {
		logger.Fatal("failed to open memory", "error", err)
	}
	defer store.Close()

	emb, err := embedder.New(embedder.FromConfig(cfg.Embedder))
	if err != nil {
		logger.Fatal("failed to create embedder", "error", err)
	}
	defer emb.Close()
	logger.Debug("embedder configured", "provider", cfg.Embedder.Provider, "dimension", cfg.Embedder.Dimension)

	model, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		logger.Fatal("failed to create llm", "error", err)
	}

	mira, err := agent.New(store, emb, model, agent.Config{
		AgentHostname: cfg.AgentHostname,
		MaxSteps:      cfg.LLM.MaxSteps,
		Retry: llm.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
		Timezone: cfg.Timezone,
	})
	if err != nil {
		logger.Fatal("failed to create agent", "error", err)
	}
	defer mira.Close()

	mira.SetBudget(budget.NewTracker(budget.Config{
		DailyLimit: cfg.Budget.DailyTokens,
		WarnAt:     cfg.Budget.WarnAt,
		Timezone:   cfg.Timezone,
	}, func(used, limit int) {
		logger.Warn("token budget warning", "used", used, "limit", limit)
	}, func(used, limit int) {
		logger.Warn("token budget exhausted", "used", used, "limit", limit)
	}))

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = mira.Bootstrap(bootCtx)
	cancel()
	if err != nil {
		logger.Fatal("failed to bootstrap agent user", "error", err)
	}
	logger.Info("agent ready", "id", mira.Self().ID, "provider", model.Provider(), "model", model.Model())

	checker := status.NewChecker("/")
	checker.Add("memory", store.Ping)
	checker.Add("agent", func(ctx context.Context) error {
		if mira.Self() == nil {
			return errors.New("agent user missing")
		}
		return nil
	})

	// minio archive (optional)
	if cfg.Storage.Enabled() {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
		if err != nil {
			logger.Error("failed to create storage client", "error", err)
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := storageClient.Init(initCtx); err != nil {
				logger.Error("failed to init storage bucket", "error", err)
			} else {
				mira.SetArchive(storage.NewArchive(storageClient))
				checker.Add("archive", func(ctx context.Context) error {
					if !storageClient.Healthy(ctx) {
						return errors.New("object storage unreachable")
					}
					return nil
				})
				logger.Info("transcript archive enabled", "endpoint", cfg.Storage.Endpoint, "bucket", storageClient.Bucket())
			}
			cancel()
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	srv := server.New(cfg.Addr, mira, checker)

	if cfg.Backfill.Schedule != "" {
		backfill := cron.NewBackfill(store, emb, cfg.Backfill.Batch)
		scheduler, err := cron.Start(ctx, cfg.Backfill.Schedule, backfill)
		if err != nil {
			logger.Fatal("failed to schedule backfill", "error", err)
		}
		defer scheduler.Stop()
		srv.SetBackfill(backfill)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
