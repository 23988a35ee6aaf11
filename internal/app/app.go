package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/config"
	"github.com/gurnoornatt/code-chat/internal/core"
	db "github.com/gurnoornatt/code-chat/internal/core/database"
	"github.com/gurnoornatt/code-chat/internal/core/ingestion_engine"
	"github.com/gurnoornatt/code-chat/internal/core/llm"
	objectclient "github.com/gurnoornatt/code-chat/internal/core/object-client"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Server       *Server

	closers []func() error
	stop    context.CancelFunc
	log     *logger.Logger
}

// NewApp connects every backing service and wires the HTTP server.
// The resource indexer workers run until Close.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{log: log}

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	log.Info("database initialized and ready")

	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		s3Client, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ObjectClient = s3Client
		log.Info("object storage initialized", "bucket", cfg.BucketName, "endpoint", cfg.S3Endpoint)
	} else {
		a.ObjectClient = objectclient.NewMemoryClient()
		log.Warn("AWS credentials not set, file blobs are kept in memory")
	}

	var (
		embedder core.EmbeddingProvider
		tutor    core.LLMProvider
		indexer  core.ResourceIndexer = ingestion_engine.NoopIndexer{}
	)
	workerCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stop = stop

	if cfg.AIEnabled() {
		geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
		}
		a.closers = append(a.closers, geminiEmbedder.Close)

		geminiLLM, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize the tutor model: %w", err)
		}
		a.closers = append(a.closers, geminiLLM.Close)

		resourceIndexer := ingestion_engine.NewResourceIndexer(dbClient, geminiEmbedder, ingestion_engine.IndexConfig{}, log)
		resourceIndexer.Start(workerCtx, cfg.IndexWorkers)
		embedder, tutor, indexer = geminiEmbedder, geminiLLM, resourceIndexer
		log.Info("AI tutor and resource indexing enabled", "workers", cfg.IndexWorkers)
	} else {
		log.Warn("GEMINI_API_KEY not set, tutor replies and semantic search are disabled")
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		a.Close()
		return nil, err
	}

	router := NewRouter(RouterDeps{
		Guard:          auth.NewGuard(tokens, dbClient),
		Students:       services.NewStudentService(dbClient, tokens),
		Chat:           services.NewChatService(dbClient, tutor, log),
		Files:          services.NewFileService(dbClient, a.ObjectClient, ingestion_engine.NewDocconvExtractor(false), cfg.MaxUploadBytes, log),
		Resources:      services.NewResourceService(dbClient, embedder, indexer, log),
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		Log:            log,
	})
	a.Server = NewServer(cfg.Port, router, log)

	return a, nil
}

// Close stops the indexer workers and releases clients in reverse order.
func (a *App) Close() {
	if a.stop != nil {
		a.stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
