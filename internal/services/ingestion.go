package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/quillbase/quillbase-backend/internal/data/repos/chatbots"
	"github.com/quillbase/quillbase-backend/internal/data/repos/jobs"
	"github.com/quillbase/quillbase-backend/internal/data/repos/sources"
	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/apierr"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
	"github.com/quillbase/quillbase-backend/internal/worker"
)

// IngestionService is the enqueue side of the pipeline: it creates job rows
// for the worker to claim and never touches the vector store itself.
type IngestionService interface {
	CreateChatbot(dbc dbctx.Context, name, description, systemPrompt string) (*types.Chatbot, error)
	GetChatbot(dbc dbctx.Context, id uuid.UUID) (*types.Chatbot, error)
	ListChatbots(dbc dbctx.Context) ([]*types.Chatbot, error)

	// IngestText creates a TEXT source for pasted content and enqueues
	// its ingestion job.
	IngestText(dbc dbctx.Context, chatbotID uuid.UUID, title, text string) (*types.IngestionJob, error)
	// IngestPages enqueues a SCRAPE job carrying dataset items (web pages
	// with flat text, PDFs with per-page text). Sources are resolved or
	// created during staging.
	IngestPages(dbc dbctx.Context, chatbotID uuid.UUID, items []worker.ScrapeItem) (*types.IngestionJob, error)
	// DeleteSource enqueues a DELETE_SOURCE job; the source row is removed
	// only after the vector index confirms deletion.
	DeleteSource(dbc dbctx.Context, chatbotID, sourceID uuid.UUID) (*types.IngestionJob, error)

	GetJob(dbc dbctx.Context, jobID uuid.UUID) (*types.IngestionJob, error)
	ListSources(dbc dbctx.Context, chatbotID uuid.UUID) ([]*types.KnowledgeSource, error)
}

type ingestionService struct {
	log      *logger.Logger
	chatbots chatbots.ChatbotRepo
	sources  sources.SourceRepo
	jobs     jobs.JobRepo
}

func NewIngestionService(
	baseLog *logger.Logger,
	chatbotRepo chatbots.ChatbotRepo,
	sourceRepo sources.SourceRepo,
	jobRepo jobs.JobRepo,
) (IngestionService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ingestionService{
		log:      baseLog.With("service", "IngestionService"),
		chatbots: chatbotRepo,
		sources:  sourceRepo,
		jobs:     jobRepo,
	}, nil
}

func (s *ingestionService) CreateChatbot(dbc dbctx.Context, name, description, systemPrompt string) (*types.Chatbot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.New(http.StatusBadRequest, "invalid_request", fmt.Errorf("chatbot name required"))
	}
	bot := &types.Chatbot{
		ID:           uuid.New(),
		Name:         name,
		Description:  description,
		SystemPrompt: systemPrompt,
		Status:       types.ChatbotStatusCreated,
	}
	if err := s.chatbots.Create(dbc, bot); err != nil {
		return nil, err
	}
	s.log.Info("Chatbot created", "chatbot_id", bot.ID, "name", bot.Name)
	return bot, nil
}

func (s *ingestionService) GetChatbot(dbc dbctx.Context, id uuid.UUID) (*types.Chatbot, error) {
	bot, err := s.chatbots.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, apierr.New(http.StatusNotFound, "chatbot_not_found", fmt.Errorf("chatbot %s not found", id))
	}
	return bot, nil
}

func (s *ingestionService) ListChatbots(dbc dbctx.Context) ([]*types.Chatbot, error) {
	return s.chatbots.List(dbc)
}

func (s *ingestionService) IngestText(dbc dbctx.Context, chatbotID uuid.UUID, title, text string) (*types.IngestionJob, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apierr.New(http.StatusBadRequest, "invalid_request", fmt.Errorf("text required"))
	}
	bot, err := s.GetChatbot(dbc, chatbotID)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = "Pasted text"
	}
	src := &types.KnowledgeSource{
		ID:         uuid.New(),
		ChatbotID:  bot.ID,
		Title:      title,
		SourceType: types.SourceTypeText,
		Status:     types.SourceStatusPending,
	}
	if err := s.sources.Create(dbc, src); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(worker.TextPayload{SourceID: src.ID.String(), Text: text})
	if err != nil {
		return nil, err
	}
	job := &types.IngestionJob{
		ID:        uuid.New(),
		ChatbotID: bot.ID,
		SourceID:  &src.ID,
		Kind:      types.JobKindText,
		Status:    types.JobStatusPending,
		Payload:   datatypes.JSON(payload),
	}
	if err := s.enqueue(dbc, bot, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *ingestionService) IngestPages(dbc dbctx.Context, chatbotID uuid.UUID, items []worker.ScrapeItem) (*types.IngestionJob, error) {
	if len(items) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "invalid_request", fmt.Errorf("at least one item required"))
	}
	for _, item := range items {
		if strings.TrimSpace(item.URL) == "" {
			return nil, apierr.New(http.StatusBadRequest, "invalid_request", fmt.Errorf("every item needs a url"))
		}
	}
	bot, err := s.GetChatbot(dbc, chatbotID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(worker.ScrapePayload{Items: items})
	if err != nil {
		return nil, err
	}
	job := &types.IngestionJob{
		ID:        uuid.New(),
		ChatbotID: bot.ID,
		Kind:      types.JobKindScrape,
		Status:    types.JobStatusPending,
		Payload:   datatypes.JSON(payload),
	}
	if err := s.enqueue(dbc, bot, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *ingestionService) DeleteSource(dbc dbctx.Context, chatbotID, sourceID uuid.UUID) (*types.IngestionJob, error) {
	bot, err := s.GetChatbot(dbc, chatbotID)
	if err != nil {
		return nil, err
	}
	src, err := s.sources.GetByID(dbc, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil || src.ChatbotID != bot.ID {
		return nil, apierr.New(http.StatusNotFound, "source_not_found", fmt.Errorf("source %s not found", sourceID))
	}

	payload, err := json.Marshal(worker.DeleteSourcePayload{SourceID: src.ID.String()})
	if err != nil {
		return nil, err
	}
	job := &types.IngestionJob{
		ID:        uuid.New(),
		ChatbotID: bot.ID,
		SourceID:  &src.ID,
		Kind:      types.JobKindDeleteSource,
		Status:    types.JobStatusPending,
		Payload:   datatypes.JSON(payload),
	}
	if err := s.jobs.Create(dbc, job); err != nil {
		return nil, err
	}
	s.log.Info("Job enqueued", "job_id", job.ID, "kind", job.Kind, "chatbot_id", bot.ID)
	return job, nil
}

func (s *ingestionService) GetJob(dbc dbctx.Context, jobID uuid.UUID) (*types.IngestionJob, error) {
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.New(http.StatusNotFound, "job_not_found", fmt.Errorf("job %s not found", jobID))
	}
	return job, nil
}

func (s *ingestionService) ListSources(dbc dbctx.Context, chatbotID uuid.UUID) ([]*types.KnowledgeSource, error) {
	if _, err := s.GetChatbot(dbc, chatbotID); err != nil {
		return nil, err
	}
	return s.sources.ListByChatbot(dbc, chatbotID)
}

// enqueue creates the job row and flips the chatbot to INGESTING so callers
// can observe the pipeline working before the first chunk lands.
func (s *ingestionService) enqueue(dbc dbctx.Context, bot *types.Chatbot, job *types.IngestionJob) error {
	if err := s.jobs.Create(dbc, job); err != nil {
		return err
	}
	if bot.Status == types.ChatbotStatusCreated {
		if err := s.chatbots.UpdateFields(dbc, bot.ID, map[string]interface{}{
			"status": types.ChatbotStatusIngesting,
		}); err != nil {
			s.log.Warn("Chatbot status update failed", "chatbot_id", bot.ID, "error", err)
		}
	}
	s.log.Info("Job enqueued", "job_id", job.ID, "kind", job.Kind, "chatbot_id", bot.ID)
	return nil
}
