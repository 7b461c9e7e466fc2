package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/apierr"
	"github.com/quillbase/quillbase-backend/internal/worker"
)

type stubSourceRepo struct {
	rows map[uuid.UUID]*types.KnowledgeSource
}

func (r *stubSourceRepo) Create(_ dbctx.Context, src *types.KnowledgeSource) error {
	r.rows[src.ID] = src
	return nil
}

func (r *stubSourceRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.KnowledgeSource, error) {
	return r.rows[id], nil
}

func (r *stubSourceRepo) GetByChatbotAndURI(_ dbctx.Context, _ uuid.UUID, _ string) (*types.KnowledgeSource, error) {
	return nil, nil
}

func (r *stubSourceRepo) ListByChatbot(_ dbctx.Context, chatbotID uuid.UUID) ([]*types.KnowledgeSource, error) {
	var out []*types.KnowledgeSource
	for _, row := range r.rows {
		if row.ChatbotID == chatbotID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *stubSourceRepo) UpdateFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (r *stubSourceRepo) UpdateFieldsByLastJob(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (r *stubSourceRepo) HardDelete(_ dbctx.Context, id uuid.UUID) error {
	delete(r.rows, id)
	return nil
}

type stubJobRepo struct {
	rows map[uuid.UUID]*types.IngestionJob
}

func (r *stubJobRepo) Create(_ dbctx.Context, job *types.IngestionJob) error {
	r.rows[job.ID] = job
	return nil
}

func (r *stubJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.IngestionJob, error) {
	return r.rows[id], nil
}

func (r *stubJobRepo) ListByChatbot(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.IngestionJob, error) {
	return nil, nil
}

func (r *stubJobRepo) ListRunning(_ dbctx.Context) ([]*types.IngestionJob, error) { return nil, nil }

func (r *stubJobRepo) ClaimOldestPending(_ dbctx.Context) (*types.IngestionJob, error) {
	return nil, nil
}

func (r *stubJobRepo) UpdateFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (r *stubJobRepo) RecordChunkSuccess(_ dbctx.Context, _ uuid.UUID) error { return nil }

func (r *stubJobRepo) RecordChunkFailure(_ dbctx.Context, _ uuid.UUID, _ string) error { return nil }

type ingestionEnv struct {
	bots    *stubChatbotRepo
	sources *stubSourceRepo
	jobs    *stubJobRepo
	svc     IngestionService
}

func newIngestionEnv(t *testing.T) *ingestionEnv {
	t.Helper()
	env := &ingestionEnv{
		bots:    &stubChatbotRepo{bots: map[uuid.UUID]*types.Chatbot{}},
		sources: &stubSourceRepo{rows: map[uuid.UUID]*types.KnowledgeSource{}},
		jobs:    &stubJobRepo{rows: map[uuid.UUID]*types.IngestionJob{}},
	}
	svc, err := NewIngestionService(newTestLogger(t), env.bots, env.sources, env.jobs)
	if err != nil {
		t.Fatalf("NewIngestionService: %v", err)
	}
	env.svc = svc
	return env
}

func TestIngestTextEnqueuesJob(t *testing.T) {
	env := newIngestionEnv(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	bot, err := env.svc.CreateChatbot(dbc, "docs-bot", "", "")
	if err != nil {
		t.Fatalf("CreateChatbot: %v", err)
	}
	if bot.Status != types.ChatbotStatusCreated {
		t.Fatalf("chatbot status = %s, want CREATED", bot.Status)
	}

	job, err := env.svc.IngestText(dbc, bot.ID, "Notes", "Some pasted content.")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if job.Kind != types.JobKindText || job.Status != types.JobStatusPending {
		t.Fatalf("job = %s/%s, want TEXT/PENDING", job.Kind, job.Status)
	}
	if job.SourceID == nil {
		t.Fatal("expected the job to reference its source")
	}

	var payload worker.TextPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.SourceID != job.SourceID.String() || payload.Text != "Some pasted content." {
		t.Fatalf("unexpected payload %+v", payload)
	}

	src := env.sources.rows[*job.SourceID]
	if src == nil || src.SourceType != types.SourceTypeText || src.Status != types.SourceStatusPending {
		t.Fatalf("unexpected source %+v", src)
	}
	if env.bots.bots[bot.ID].Status != types.ChatbotStatusIngesting {
		t.Fatal("expected chatbot to flip to INGESTING on first enqueue")
	}
}

func TestIngestTextRejectsEmptyText(t *testing.T) {
	env := newIngestionEnv(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	bot, err := env.svc.CreateChatbot(dbc, "docs-bot", "", "")
	if err != nil {
		t.Fatalf("CreateChatbot: %v", err)
	}

	_, err = env.svc.IngestText(dbc, bot.ID, "", "   \n ")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected a 400, got %v", err)
	}
}

func TestIngestPagesUnknownChatbot(t *testing.T) {
	env := newIngestionEnv(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	_, err := env.svc.IngestPages(dbc, uuid.New(), []worker.ScrapeItem{
		{URL: "https://example.com/a", Text: "content"},
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected a 404, got %v", err)
	}
}

func TestDeleteSourceEnqueuesJob(t *testing.T) {
	env := newIngestionEnv(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	bot, err := env.svc.CreateChatbot(dbc, "docs-bot", "", "")
	if err != nil {
		t.Fatalf("CreateChatbot: %v", err)
	}
	ingest, err := env.svc.IngestText(dbc, bot.ID, "Notes", "Content to delete later.")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}

	job, err := env.svc.DeleteSource(dbc, bot.ID, *ingest.SourceID)
	if err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if job.Kind != types.JobKindDeleteSource || job.Status != types.JobStatusPending {
		t.Fatalf("job = %s/%s, want DELETE_SOURCE/PENDING", job.Kind, job.Status)
	}

	// Sources belonging to another chatbot are invisible.
	other, err := env.svc.CreateChatbot(dbc, "other-bot", "", "")
	if err != nil {
		t.Fatalf("CreateChatbot: %v", err)
	}
	_, err = env.svc.DeleteSource(dbc, other.ID, *ingest.SourceID)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected a 404, got %v", err)
	}
}
