package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/services"
)

type ChatbotsHandler struct {
	ingestion services.IngestionService
}

func NewChatbotsHandler(ingestion services.IngestionService) *ChatbotsHandler {
	return &ChatbotsHandler{ingestion: ingestion}
}

type createChatbotRequest struct {
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

// POST /api/chatbots
func (h *ChatbotsHandler) Create(c *gin.Context) {
	var req createChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	bot, err := h.ingestion.CreateChatbot(dbc, req.Name, req.Description, req.SystemPrompt)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chatbot": bot})
}

// GET /api/chatbots
func (h *ChatbotsHandler) List(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	bots, err := h.ingestion.ListChatbots(dbc)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"chatbots": bots})
}

// GET /api/chatbots/:id
func (h *ChatbotsHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	bot, err := h.ingestion.GetChatbot(dbc, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"chatbot": bot})
}

// GET /api/chatbots/:id/sources
func (h *ChatbotsHandler) ListSources(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	sources, err := h.ingestion.ListSources(dbc, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"sources": sources})
}
