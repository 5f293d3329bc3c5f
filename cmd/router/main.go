package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agenthands/tgi-router/internal/config"
	"github.com/agenthands/tgi-router/internal/health"
	"github.com/agenthands/tgi-router/internal/httpapi"
	"github.com/agenthands/tgi-router/internal/infer"
	"github.com/agenthands/tgi-router/internal/modelinfo"
	"github.com/agenthands/tgi-router/internal/queue"
	"github.com/agenthands/tgi-router/internal/scheduler"
	"github.com/agenthands/tgi-router/internal/shardclient"
	"github.com/agenthands/tgi-router/internal/validation"
	"github.com/agenthands/tgi-router/pkg/tokenizer"
)

var configPath = flag.String("config", "", "path to a YAML deployment config, layered over built-in defaults")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)
	slog.SetDefault(logger)

	if len(cfg.Server.ShardAddresses) == 0 {
		logger.Error("no shard_addresses configured")
		os.Exit(1)
	}

	shards, err := dialShards(cfg.Server.ShardAddresses)
	if err != nil {
		logger.Error("dial shards", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	info, err := shards.Info(ctx)
	cancel()
	if err != nil {
		logger.Error("shard info rpc failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shard pool ready", "shards", shards.NumShards(), "requires_padding", info.RequiresPadding, "speculate", info.Speculate)

	var tok *tokenizer.Tokenizer
	if cfg.Model.TokenizerEncoding != "" {
		tok, err = tokenizer.New(cfg.Model.TokenizerEncoding)
		if err != nil {
			logger.Error("load tokenizer", "error", err, "encoding", cfg.Model.TokenizerEncoding)
			os.Exit(1)
		}
	} else {
		logger.Warn("no tokenizer_encoding configured; validation will skip token-level bounds and /tokenize will 404")
	}

	var chatTemplate *tokenizer.ChatTemplate
	if cfg.Model.ChatTemplatePath != "" {
		source, err := os.ReadFile(cfg.Model.ChatTemplatePath)
		if err != nil {
			logger.Error("load chat template", "error", err, "path", cfg.Model.ChatTemplatePath)
			os.Exit(1)
		}
		chatTemplate = tokenizer.NewChatTemplate(string(source))
	} else {
		chatTemplate = tokenizer.NewChatTemplate(tokenizer.DefaultChatTemplate)
	}

	var nextID uint64
	idGen := func() uint64 { return atomic.AddUint64(&nextID, 1) }

	pool := validation.New(validation.Limits{
		MaxBestOf:           cfg.Validation.MaxBestOf,
		MaxStopSequences:    cfg.Validation.MaxStopSequences,
		MaxTopNTokens:       cfg.Validation.MaxTopNTokens,
		MaxInputLength:      cfg.Validation.MaxInputLength,
		MaxTotalTokens:      cfg.Validation.MaxTotalTokens,
		MaxTokenizerWorkers: cfg.Validation.MaxTokenizerWorkers,
	}, tok, idGen)

	q := queue.New(info.RequiresPadding, cfg.Batching.MaxBatchSize)

	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	maxSupportedTotalTokens, err := shards.Warmup(warmupCtx, cfg.Validation.MaxInputLength, uint32(cfg.Batching.MaxBatchPrefillTokens), cfg.Validation.MaxTotalTokens, uint32(cfg.Batching.MaxBatchSize))
	warmupCancel()
	if err != nil {
		logger.Error("shard warmup rpc failed", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(q, shards, info, scheduler.Limits{
		MaxBatchPrefillTokens: cfg.Batching.MaxBatchPrefillTokens,
		MaxBatchTotalTokens:   cfg.Batching.MaxBatchTotalTokens,
		MaxWaitingTokens:      cfg.Batching.MaxWaitingTokens,
		WaitingServedRatio:    cfg.Batching.WaitingServedRatio,
	}, logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	go sched.Run(schedCtx)

	inf := infer.New(cfg.Batching.MaxConcurrentRequests, q, pool, chatTemplate)
	checker := health.New(shards, sched)

	registry := modelinfo.New()
	registry.Set(modelinfo.FromShard(modelinfo.Info{
		ModelID:               cfg.Model.ID,
		ModelSHA:              cfg.Model.SHA,
		MaxConcurrentRequests: int(cfg.Batching.MaxConcurrentRequests),
		MaxBestOf:             cfg.Validation.MaxBestOf,
		MaxStopSequences:      cfg.Validation.MaxStopSequences,
		MaxInputLength:        cfg.Validation.MaxInputLength,
		MaxTotalTokens:        cfg.Validation.MaxTotalTokens,
		WaitingServedRatio:    cfg.Batching.WaitingServedRatio,
		MaxBatchTotalTokens:   cfg.Batching.MaxBatchTotalTokens,
		MaxWaitingTokens:      cfg.Batching.MaxWaitingTokens,
		Version:               cfg.Version,
		DockerLabel:           cfg.Deployment.DockerLabel,
	}, info, maxSupportedTotalTokens))

	server := httpapi.New(*cfg, inf, registry, checker, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	schedCancel()
	logger.Info("shutdown complete")
}

func dialShards(addrs []string) (*shardclient.ShardedClient, error) {
	clients := make([]shardclient.ShardClient, len(addrs))
	for i, addr := range addrs {
		c, err := shardclient.NewHTTPClient(addr)
		if err != nil {
			return nil, err
		}
		clients[i] = c
	}
	return shardclient.NewShardedClient(clients...)
}

func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
