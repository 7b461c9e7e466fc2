package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/quillbase/quillbase-backend/internal/data/db"
	"github.com/quillbase/quillbase-backend/internal/data/repos/chatbots"
	"github.com/quillbase/quillbase-backend/internal/data/repos/chunks"
	"github.com/quillbase/quillbase-backend/internal/data/repos/conversations"
	"github.com/quillbase/quillbase-backend/internal/data/repos/jobs"
	"github.com/quillbase/quillbase-backend/internal/data/repos/outbox"
	"github.com/quillbase/quillbase-backend/internal/data/repos/sources"
	"github.com/quillbase/quillbase-backend/internal/handlers"
	"github.com/quillbase/quillbase-backend/internal/observability"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
	"github.com/quillbase/quillbase-backend/internal/platform/openai"
	"github.com/quillbase/quillbase-backend/internal/services"
	"github.com/quillbase/quillbase-backend/internal/services/events"
	"github.com/quillbase/quillbase-backend/internal/worker"
)

// App owns the wired process: database, repos, services, worker and router.
// Every provider is constructor-injected so tests can assemble substitutes.
type App struct {
	Config Config
	Log    *logger.Logger
	DB     *db.PostgresService
	Router *gin.Engine
	Worker *worker.Worker

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	cfg := LoadConfig()

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	gdb := pg.DB()

	chatbotRepo := chatbots.NewChatbotRepo(gdb, log)
	sourceRepo := sources.NewSourceRepo(gdb, log)
	jobRepo := jobs.NewJobRepo(gdb, log)
	chunkRepo := chunks.NewChunkRepo(gdb, log)
	outboxRepo := outbox.NewOutboxRepo(gdb, log)
	convRepo := conversations.NewConversationRepo(gdb, log)

	llm, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	store, err := NewVectorStore(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	embedder, err := NewEmbedProvider(log, cfg, llm)
	if err != nil {
		return nil, fmt.Errorf("embed provider: %w", err)
	}

	notifier, err := events.NewRedisNotifier(log)
	if err != nil {
		log.Warn("Redis notifier unavailable, job events disabled", "error", err)
		notifier = events.NewNoopNotifier()
	}

	w, err := worker.New(log, pg, jobRepo, sourceRepo, chunkRepo, outboxRepo, chatbotRepo, store, embedder, notifier, cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	ingestionService, err := services.NewIngestionService(log, chatbotRepo, sourceRepo, jobRepo)
	if err != nil {
		return nil, fmt.Errorf("ingestion service: %w", err)
	}
	chatService, err := services.NewChatService(log, chatbotRepo, chunkRepo, convRepo, embedder, store, llm, cfg.Chat)
	if err != nil {
		return nil, fmt.Errorf("chat service: %w", err)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName:      cfg.ServiceName,
		ChatbotsHandler:  handlers.NewChatbotsHandler(ingestionService),
		IngestionHandler: handlers.NewIngestionHandler(ingestionService),
		ChatHandler:      handlers.NewChatHandler(chatService),
	})

	return &App{
		Config:       cfg,
		Log:          log,
		DB:           pg,
		Router:       router,
		Worker:       w,
		otelShutdown: otelShutdown,
	}, nil
}

// Shutdown flushes traces and closes the database. Safe to call once the
// HTTP server and worker have stopped.
func (a *App) Shutdown(ctx context.Context) {
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("database close failed", "error", err)
	}
}
