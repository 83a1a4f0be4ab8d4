package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"ragserve/internal/app"
	"ragserve/internal/config"
	"ragserve/internal/ingest"
	"ragserve/internal/ledger"
	"ragserve/internal/rag"
	"ragserve/internal/ratelimit"
	"ragserve/internal/server"
	"ragserve/internal/session"
	"ragserve/internal/util"
	"ragserve/internal/vectorindex"
	"ragserve/pkg/ai"
	"ragserve/pkg/queue"
	"ragserve/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	var store ledger.Store
	switch cfg.DatabaseDriver {
	case "sqlite":
		store, err = ledger.NewSQLiteStore(cfg.SQLitePath)
	default:
		store, err = ledger.NewPostgresStore(cfg.DatabaseURL)
	}
	if err != nil {
		fatal("failed to open ledger store", "err", err)
	}
	led := ledger.New(store)

	var blobs storage.BlobStore
	switch cfg.BlobBackend {
	case "fs":
		blobs, err = storage.NewFSStore(cfg.DataDir)
	default:
		blobs, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	if err != nil {
		fatal("failed to open blob store", "err", err)
	}

	tokens, err := session.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL())
	if err != nil {
		fatal("failed to init token issuer", "err", err)
	}
	transcripts := session.NewTranscriptStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL())

	var embedder ai.Embedder
	var generator ai.StreamGenerator
	if cfg.DummyAI {
		embedder = &ai.DummyEmbedder{}
		generator = &ai.DummyGenerator{}
	} else {
		client := ai.NewOllamaClient(cfg.OllamaBaseURL)
		embedder = ai.NewOllamaEmbedder(client, cfg.EmbeddingModel)
		generator = ai.NewOllamaGenerator(client, cfg.GenerationModel)
	}

	index := vectorindex.NewMemoryIndex()

	embedQueue, err := queue.NewEmbedQueue(queue.EmbedQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		fatal("failed to init embed queue", "err", err)
	}

	appCore := &app.App{
		Ledger:          led,
		Blobs:           blobs,
		Index:           index,
		Chunker:         ingest.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		Embedder:        embedder,
		Pipeline:        rag.New(embedder, generator, index, cfg.TopK),
		Transcripts:     transcripts,
		Tokens:          tokens,
		Queue:           embedQueue,
		RetentionMaxAge: cfg.RetentionMaxAge(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appCore.StartEmbedWorkers(ctx, cfg.EmbedWorkers)

	loginLimiter, err := ratelimit.NewFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "login",
		cfg.LoginRateLimit, time.Duration(cfg.LoginRateWindowMS)*time.Millisecond,
	)
	if err != nil {
		fatal("failed to init login limiter", "err", err)
	}

	httpServer := server.New(server.Config{
		App:          appCore,
		Tokens:       tokens,
		LoginLimiter: loginLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: /rag streams for as long as generation runs
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("ragserve listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
	}
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
