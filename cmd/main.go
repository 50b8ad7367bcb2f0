package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stayops/concierge/internal/answer"
	"github.com/stayops/concierge/internal/cache"
	"github.com/stayops/concierge/internal/config"
	"github.com/stayops/concierge/internal/guard"
	"github.com/stayops/concierge/internal/llm"
	"github.com/stayops/concierge/internal/logging"
	"github.com/stayops/concierge/internal/metrics"
	"github.com/stayops/concierge/internal/prompt"
	"github.com/stayops/concierge/internal/retrieval"
	"github.com/stayops/concierge/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "CONCIERGE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	tiered, closeCache, err := buildResponseCache(logger, cfg.Server.Cache, metricsRecorder)
	if err != nil {
		logger.Error("cache construction failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCache()

	classifier := guard.NewClassifier(cfg.Chat.FallbackPhrases, cfg.Chat.FallbackLikePhrases)
	if file := strings.TrimSpace(cfg.Chat.PhrasesFile); file != "" {
		watcher, err := config.WatchPhrases(ctx, file, func(lists config.PhraseLists) {
			classifier.UpdatePhrases(lists.Fallback, lists.FallbackLike)
			logger.Info("phrase lists reloaded",
				slog.Int("fallback", len(lists.Fallback)),
				slog.Int("fallbackLike", len(lists.FallbackLike)))
		}, func(err error) {
			logger.Error("phrase watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("phrase watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	pool, err := newPolicyPool(ctx, cfg.Retrieval.PostgresDSN)
	if err != nil {
		logger.Error("policy store connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	embedder, err := llm.NewEmbedder(ctx, cfg.LLM)
	if err != nil {
		logger.Error("embedder construction failed", slog.Any("error", err))
		os.Exit(1)
	}
	generator, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		logger.Error("generator construction failed", slog.Any("error", err))
		os.Exit(1)
	}

	store := retrieval.New(pool, embedder, cfg.Retrieval.TopK, cfg.Retrieval.ScoreThreshold, logger)

	pipe, err := answer.New(tiered, store, generator, classifier, loadPrompt(logger, cfg.Chat), cfg.Chat.FallbackMessage, metricsRecorder, logger)
	if err != nil {
		logger.Error("pipeline construction failed", slog.Any("error", err))
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger, server.NewHandler(pipe, metricsRecorder.Handler()))
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildResponseCache assembles the two cache tiers. The distributed tier is
// optional: construction failures degrade to local-only instead of stopping
// the service.
func buildResponseCache(logger *slog.Logger, cfg config.CacheConfig, rec *metrics.Recorder) (*cache.Tiered, func(), error) {
	local, err := cache.NewLocal(cfg.MaxSize, hours(cfg.TTLHours))
	if err != nil {
		return nil, nil, err
	}

	var remote *cache.Valkey
	if strings.TrimSpace(cfg.Valkey.Address) != "" {
		remote, err = cache.NewValkey(valkeyConfig(cfg.Valkey), logger)
		if err != nil {
			logger.Warn("distributed cache tier unavailable, continuing local-only", slog.Any("error", err))
			remote = nil
		} else {
			logger.Info("distributed cache tier attached", slog.String("address", cfg.Valkey.Address))
		}
	}

	closer := func() {
		if remote != nil {
			remote.Close()
		}
	}
	return cache.NewTiered(local, remote, rec, logger), closer, nil
}

func valkeyConfig(cfg config.ValkeyConfig) cache.ValkeyConfig {
	return cache.ValkeyConfig{
		Address:     cfg.Address,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		TTL:         hours(cfg.TTLHours),
		Compression: cfg.Compression,
		TLS: cache.ValkeyTLSConfig{
			Enabled: cfg.TLS.Enabled,
			CAFile:  cfg.TLS.CAFile,
		},
	}
}

// loadPrompt reads the configured prompt file and falls back to the built-in
// prompt when the folder or file is missing.
func loadPrompt(logger *slog.Logger, cfg config.ChatConfig) *prompt.Prompt {
	library, err := prompt.NewLibrary(cfg.PromptsFolder)
	if err != nil {
		logger.Warn("prompts folder unavailable, using built-in prompt", slog.Any("error", err))
		return prompt.Default()
	}
	p, err := library.Load(cfg.PromptFile)
	if err != nil {
		logger.Warn("prompt file unavailable, using built-in prompt",
			slog.String("file", cfg.PromptFile), slog.Any("error", err))
		return prompt.Default()
	}
	logger.Info("prompt loaded", slog.String("file", cfg.PromptFile))
	return p
}

// newPolicyPool opens the pgx pool used for vector search and registers the
// pgvector types on every new connection.
func newPolicyPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect policy store: %w", err)
	}
	return pool, nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
