package handlers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterConfig struct {
	ServiceName      string
	ChatbotsHandler  *ChatbotsHandler
	IngestionHandler *IngestionHandler
	ChatHandler      *ChatHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "quillbase"
	}
	router.Use(otelgin.Middleware(serviceName))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", HealthCheck)

	api := router.Group("/api")
	{
		if cfg.ChatbotsHandler != nil {
			api.POST("/chatbots", cfg.ChatbotsHandler.Create)
			api.GET("/chatbots", cfg.ChatbotsHandler.List)
			api.GET("/chatbots/:id", cfg.ChatbotsHandler.Get)
			api.GET("/chatbots/:id/sources", cfg.ChatbotsHandler.ListSources)
		}
		if cfg.IngestionHandler != nil {
			api.POST("/chatbots/:id/ingest/text", cfg.IngestionHandler.IngestText)
			api.POST("/chatbots/:id/ingest/pages", cfg.IngestionHandler.IngestPages)
			api.DELETE("/chatbots/:id/sources/:sourceId", cfg.IngestionHandler.DeleteSource)
			api.GET("/jobs/:id", cfg.IngestionHandler.GetJob)
		}
		if cfg.ChatHandler != nil {
			api.POST("/chatbots/:id/chat", cfg.ChatHandler.Ask)
			api.GET("/chatbots/:id/conversations/:conversationId/messages", cfg.ChatHandler.History)
		}
	}

	return router
}
