package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/assistants"
	"github.com/loomworks/loom/internal/blob"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/credits"
	"github.com/loomworks/loom/internal/gateway"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/prompt"
	"github.com/loomworks/loom/internal/run"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/internal/tools/builtin"
)

const defaultConfigPath = "loom.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the loom gateway server",
		Long: `Start the gateway server with the configured stores and providers.

The server will:
1. Load configuration from the specified file (or loom.yaml)
2. Connect the persistence and blob backends
3. Register LLM providers (OpenAI, Anthropic) and built-in toolkits
4. Seed declared agents into the agent store
5. Serve websocket channels, file endpoints, health, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  loom serve

  # Start with custom config
  loom serve --config /etc/loom/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Observability.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Observability.Logging.Format,
	})
	metrics := observability.NewMetrics()
	timeline := observability.NewTimeline(128)

	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "loom",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := openBlobStorage(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to open blob storage: %w", err)
	}

	stores, err := openStores(ctx, cfg.Store, blobs)
	if err != nil {
		return fmt.Errorf("failed to open store backend: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn(context.Background(), "store close failed", "error", err)
		}
	}()

	for _, decl := range cfg.Agents {
		agent := decl.ToAgent()
		if err := stores.Agents.Put(ctx, &agent); err != nil {
			return fmt.Errorf("failed to seed agent %s: %w", agent.ID, err)
		}
	}

	providers := llm.NewProviderRegistry(cfg.Providers.Default)
	providers.Register(llm.NewOpenAIProvider(llm.OpenAIOptions{
		APIKey:     cfg.Providers.OpenAI.APIKey,
		BaseURL:    cfg.Providers.OpenAI.BaseURL,
		MaxRetries: cfg.Providers.OpenAI.MaxRetries,
		Logger:     logger,
		Metrics:    metrics,
	}))
	providers.Register(llm.NewAnthropicProvider(llm.AnthropicOptions{
		APIKey:  cfg.Providers.Anthropic.APIKey,
		BaseURL: cfg.Providers.Anthropic.BaseURL,
		Logger:  logger,
		Metrics: metrics,
	}))

	remote := assistants.NewOpenAIService(assistants.OpenAIOptions{
		APIKey:       cfg.Providers.OpenAI.APIKey,
		BaseURL:      cfg.Providers.OpenAI.BaseURL,
		PollInterval: cfg.Assistants.PollInterval,
		RunTimeout:   cfg.Assistants.RunTimeout,
		Logger:       logger,
	})

	toolReg := tools.NewRegistry()
	toolReg.RegisterToolkit(builtin.NewWebBrowser(builtin.BrowserConfig{
		Timeout:      cfg.Tools.WebBrowser.Timeout,
		MaxBodyBytes: cfg.Tools.WebBrowser.MaxBodyBytes,
		UserAgent:    cfg.Tools.WebBrowser.UserAgent,
	}).Toolkit())
	runner := tools.NewRunner(toolReg, cfg.Tools.Timeout, logger, metrics)

	prompts, err := prompt.NewRegistry(cfg.Prompts.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	defer prompts.Close()
	if cfg.Prompts.Watch {
		if err := prompts.Watch(ctx); err != nil {
			logger.Warn(ctx, "prompt hot reload unavailable", "error", err)
		}
	}

	manager := conn.NewChannelManager(logger)
	orch := run.NewOrchestrator(run.Options{
		Stores:     stores,
		Manager:    manager,
		Tools:      toolReg,
		Runner:     runner,
		Providers:  providers,
		Assistants: remote,
		Prompts:    prompts,
		Credits:    credits.NewTable(creditOverrides(cfg.Credits), cfg.Credits.Minimum),
		Logger:     logger,
		Metrics:    metrics,
		Timeline:   timeline,
	})

	srv := gateway.NewServer(cfg.Server, run.NewEntry(orch, logger), manager, stores, logger)
	logger.Info(ctx, "starting loom", "version", version, "store", cfg.Store.Backend, "blob", cfg.Blob.Backend)
	return srv.Start(ctx)
}

func openBlobStorage(ctx context.Context, cfg config.BlobConfig) (blob.Storage, error) {
	switch cfg.Backend {
	case "s3":
		return blob.NewS3Storage(ctx, blob.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			PresignTTL:      cfg.S3.PresignTTL,
		})
	default:
		return blob.NewLocalStorage(cfg.Local.Dir, cfg.Local.BaseURL)
	}
}

func openStores(ctx context.Context, cfg config.StoreConfig, blobs blob.Storage) (store.Stores, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.OpenSQLite(cfg.SQLite.Path, blobs)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.Postgres.DSN, store.PostgresOptions{
			MaxConnections:  cfg.Postgres.MaxConnections,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, blobs)
	case "redis":
		return store.OpenRedis(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, blobs)
	default:
		return store.NewMemoryStores(blobs), nil
	}
}

func creditOverrides(cfg config.CreditsConfig) map[string]credits.Rate {
	if len(cfg.Models) == 0 {
		return nil
	}
	overrides := make(map[string]credits.Rate, len(cfg.Models))
	for model, rate := range cfg.Models {
		overrides[model] = credits.Rate{Input: rate.Input, Output: rate.Output}
	}
	return overrides
}
