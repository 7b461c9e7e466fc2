package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/services"
)

type ChatHandler struct {
	chat services.ChatService
}

func NewChatHandler(chat services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	Question       string `json:"question" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

// POST /api/chatbots/:id/chat
func (h *ChatHandler) Ask(c *gin.Context) {
	chatbotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var conversationID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
			return
		}
		conversationID = &id
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	resp, err := h.chat.Ask(dbc, chatbotID, conversationID, req.Question)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, resp)
}

// GET /api/chatbots/:id/conversations/:conversationId/messages
func (h *ChatHandler) History(c *gin.Context) {
	chatbotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	conversationID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	msgs, err := h.chat.History(dbc, chatbotID, conversationID, 100)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"messages": msgs})
}
