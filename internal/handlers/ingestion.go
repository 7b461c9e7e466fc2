package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/services"
	"github.com/quillbase/quillbase-backend/internal/worker"
)

type IngestionHandler struct {
	ingestion services.IngestionService
}

func NewIngestionHandler(ingestion services.IngestionService) *IngestionHandler {
	return &IngestionHandler{ingestion: ingestion}
}

type ingestTextRequest struct {
	Title string `json:"title"`
	Text  string `json:"text" binding:"required"`
}

// POST /api/chatbots/:id/ingest/text
func (h *IngestionHandler) IngestText(c *gin.Context) {
	chatbotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	var req ingestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.ingestion.IngestText(dbc, chatbotID, req.Title, req.Text)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

type ingestPagesRequest struct {
	Items []worker.ScrapeItem `json:"items" binding:"required"`
}

// POST /api/chatbots/:id/ingest/pages
func (h *IngestionHandler) IngestPages(c *gin.Context) {
	chatbotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	var req ingestPagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.ingestion.IngestPages(dbc, chatbotID, req.Items)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// DELETE /api/chatbots/:id/sources/:sourceId
func (h *IngestionHandler) DeleteSource(c *gin.Context) {
	chatbotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chatbot_id", err)
		return
	}
	sourceID, err := uuid.Parse(c.Param("sourceId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_source_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.ingestion.DeleteSource(dbc, chatbotID, sourceID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *IngestionHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.ingestion.GetJob(dbc, jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
