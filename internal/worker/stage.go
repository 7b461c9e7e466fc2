package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/ingest"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/vector"
)

// TextPayload is the payload of a TEXT job: pasted text for an existing
// source row.
type TextPayload struct {
	SourceID string `json:"source_id"`
	Text     string `json:"text"`
}

// PageItem is one page of a multi-page document.
type PageItem struct {
	PageNo int    `json:"page_no"`
	Text   string `json:"text"`
}

// ScrapeItem is one dataset item from the scraping subsystem: a web page
// with flat text, or a PDF with per-page text.
type ScrapeItem struct {
	URL              string     `json:"url"`
	CanonicalURL     string     `json:"canonical_url,omitempty"`
	OriginalURL      string     `json:"original_url,omitempty"`
	Title            string     `json:"title,omitempty"`
	Text             string     `json:"text,omitempty"`
	Pages            []PageItem `json:"pages,omitempty"`
	ExtractionMethod string     `json:"extraction_method,omitempty"`
	TextQuality      string     `json:"text_quality,omitempty"`
}

type ScrapePayload struct {
	Items []ScrapeItem `json:"items"`
}

type DeleteSourcePayload struct {
	SourceID string `json:"source_id"`
}

// stagedDoc is one canonicalized unit to chunk: the whole document for flat
// text, or a single page for PDFs.
type stagedDoc struct {
	canonical string
	pageNo    *int
}

func (w *Worker) stage(ctx context.Context, job *types.IngestionJob) error {
	switch job.Kind {
	case types.JobKindText:
		return w.stageText(ctx, job)
	case types.JobKindScrape:
		return w.stageScrape(ctx, job)
	case types.JobKindDeleteSource:
		return w.stageDeleteSource(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (w *Worker) stageText(ctx context.Context, job *types.IngestionJob) error {
	var p TextPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("text payload: %w", err)
	}
	sourceID, err := uuid.Parse(p.SourceID)
	if err != nil {
		return fmt.Errorf("text payload: bad source_id: %w", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	src, err := w.sources.GetByID(dbc, sourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("source %s not found", sourceID)
	}

	canonical := ingest.Canonicalize(p.Text)
	revision := ingest.SourceRevision(canonical)

	var total int
	err = w.tx.InTx(ctx, func(txc dbctx.Context) error {
		n, stageErr := w.stageSource(txc, job, src, revision, []stagedDoc{{canonical: canonical}}, types.ChunkSourceTypeText)
		total = n
		return stageErr
	})
	if err != nil {
		return err
	}

	return w.markStaged(ctx, job, total, "")
}

func (w *Worker) stageScrape(ctx context.Context, job *types.IngestionJob) error {
	var p ScrapePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("scrape payload: %w", err)
	}

	total := 0
	failed := 0
	lastErr := ""

	for _, item := range p.Items {
		n, err := w.stageScrapeItem(ctx, job, item)
		if err != nil {
			failed++
			lastErr = err.Error()
			w.log.Warn("Scrape item staging failed",
				"job_id", job.ID,
				"url", item.URL,
				"error", err,
			)
			continue
		}
		total += n
	}

	if len(p.Items) > 0 && failed == len(p.Items) {
		return fmt.Errorf("all %d scrape items failed to stage: %s", failed, lastErr)
	}

	return w.markStaged(ctx, job, total, lastErr)
}

func (w *Worker) stageScrapeItem(ctx context.Context, job *types.IngestionJob, item ScrapeItem) (int, error) {
	if item.URL == "" {
		return 0, fmt.Errorf("scrape item missing url")
	}

	dbc := dbctx.Context{Ctx: ctx}
	src, err := w.sources.GetByChatbotAndURI(dbc, job.ChatbotID, item.URL)
	if err != nil {
		return 0, err
	}
	if src == nil {
		srcType := types.SourceTypeURL
		if len(item.Pages) > 0 {
			srcType = types.SourceTypeFile
		}
		src = &types.KnowledgeSource{
			ID:               uuid.New(),
			ChatbotID:        job.ChatbotID,
			Title:            item.Title,
			SourceType:       srcType,
			URI:              item.URL,
			CanonicalURL:     item.CanonicalURL,
			OriginalURL:      item.OriginalURL,
			ExtractionMethod: item.ExtractionMethod,
			TextQuality:      item.TextQuality,
			Status:           types.SourceStatusPending,
		}
		if err := w.sources.Create(dbc, src); err != nil {
			return 0, err
		}
	}

	docs, revision, chunkType, err := w.prepareDocs(item)
	if err != nil {
		w.markSourceFailed(ctx, src.ID)
		return 0, err
	}

	var total int
	err = w.tx.InTx(ctx, func(txc dbctx.Context) error {
		n, stageErr := w.stageSource(txc, job, src, revision, docs, chunkType)
		total = n
		return stageErr
	})
	if err != nil {
		w.markSourceFailed(ctx, src.ID)
		return 0, err
	}
	return total, nil
}

// prepareDocs canonicalizes a scrape item and computes its revision. PDFs
// must carry a per-page text array; citation anchors cannot be synthesized
// from flat text.
func (w *Worker) prepareDocs(item ScrapeItem) ([]stagedDoc, string, string, error) {
	if len(item.Pages) > 0 {
		pages := make([]ingest.Page, 0, len(item.Pages))
		docs := make([]stagedDoc, 0, len(item.Pages))
		for _, pg := range item.Pages {
			if pg.PageNo < 1 {
				return nil, "", "", fmt.Errorf("pdf page number %d invalid", pg.PageNo)
			}
			canonical := ingest.Canonicalize(pg.Text)
			pageNo := pg.PageNo
			pages = append(pages, ingest.Page{PageNo: pg.PageNo, Text: canonical})
			if canonical == "" {
				continue
			}
			docs = append(docs, stagedDoc{canonical: canonical, pageNo: &pageNo})
		}
		return docs, ingest.PDFSourceRevision(pages), types.ChunkSourceTypePDF, nil
	}

	if item.Text == "" {
		return nil, "", "", fmt.Errorf("scrape item has neither text nor pages: cannot synthesize required page anchors")
	}
	canonical := ingest.Canonicalize(item.Text)
	return []stagedDoc{{canonical: canonical}}, ingest.SourceRevision(canonical), types.ChunkSourceTypeWeb, nil
}

func (w *Worker) stageDeleteSource(ctx context.Context, job *types.IngestionJob) error {
	var p DeleteSourcePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	sourceID, err := uuid.Parse(p.SourceID)
	if err != nil {
		return fmt.Errorf("delete payload: bad source_id: %w", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	src, err := w.sources.GetByID(dbc, sourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("source %s not found", sourceID)
	}

	err = w.tx.InTx(ctx, func(txc dbctx.Context) error {
		ids, delErr := w.chunks.SoftDeleteActiveBySource(txc, src.ID)
		if delErr != nil {
			return delErr
		}
		rows := make([]*types.VectorOutbox, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, w.newOutboxRow(job, src, types.OutboxOpDelete, id))
		}
		if _, delErr = w.outbox.EnqueueMany(txc, rows); delErr != nil {
			return delErr
		}
		return w.sources.UpdateFields(txc, src.ID, map[string]interface{}{
			"last_job_id": job.ID,
		})
	})
	if err != nil {
		return err
	}

	return w.markStaged(ctx, job, 0, "")
}

// stageSource stages one source's chunk manifest inside the caller's
// transaction: supersede the prior revision if the content changed, insert
// the new chunk rows (duplicate ids skip) and queue the vector operations.
func (w *Worker) stageSource(dbc dbctx.Context, job *types.IngestionJob, src *types.KnowledgeSource, revision string, docs []stagedDoc, chunkType string) (int, error) {
	opts := ingest.ChunkOptions{ChunkSize: w.cfg.ChunkSize, ChunkOverlap: w.cfg.ChunkOverlap}

	var newRows []*types.KnowledgeChunk
	var outboxRows []*types.VectorOutbox

	for _, doc := range docs {
		cks, err := ingest.SplitChunks(doc.canonical, opts)
		if err != nil {
			return 0, fmt.Errorf("chunk source %s: %w", src.ID, err)
		}
		for _, c := range cks {
			chunkID := ingest.ChunkID(src.ID.String(), revision, doc.pageNo, c)
			row := &types.KnowledgeChunk{
				ChunkID:          chunkID,
				ChatbotID:        src.ChatbotID,
				SourceID:         src.ID,
				SourceType:       chunkType,
				URI:              src.URI,
				CanonicalURL:     src.CanonicalURL,
				OriginalURL:      src.OriginalURL,
				ExtractionMethod: src.ExtractionMethod,
				TextQuality:      src.TextQuality,
				Title:            src.Title,
				SourceRevision:   revision,
				PageNo:           doc.pageNo,
				StartOffset:      c.StartOffset,
				EndOffset:        c.EndOffset,
				Text:             c.Text,
				TextHash:         ingest.TextHash(c.Text),
				EmbeddingModel:   w.embedder.Model(),
				EmbeddingDims:    w.embedder.Dimensions(),
				TokenCount:       ingest.ApproxTokenCount(c.Text),
			}
			// Citation invariants hold at the write boundary or the whole
			// transaction aborts.
			if err := chunkMetadata(row).Validate(); err != nil {
				return 0, err
			}
			newRows = append(newRows, row)
			outboxRows = append(outboxRows, w.newOutboxRow(job, src, types.OutboxOpUpsert, chunkID))
		}
	}

	// Supersede the prior revision: soft-delete its chunks and queue their
	// vector deletes. Identical content keeps the prior rows (ids collide).
	if src.SourceRevision != "" && src.SourceRevision != revision {
		priorIDs, err := w.chunks.SoftDeleteActiveBySource(dbc, src.ID)
		if err != nil {
			return 0, err
		}
		for _, id := range priorIDs {
			outboxRows = append(outboxRows, w.newOutboxRow(job, src, types.OutboxOpDelete, id))
		}
	}

	if _, err := w.chunks.CreateMany(dbc, newRows); err != nil {
		return 0, err
	}
	if _, err := w.outbox.EnqueueMany(dbc, outboxRows); err != nil {
		return 0, err
	}

	if err := w.sources.UpdateFields(dbc, src.ID, map[string]interface{}{
		"status":          types.SourceStatusPending,
		"source_revision": revision,
		"last_job_id":     job.ID,
	}); err != nil {
		return 0, err
	}
	return len(newRows), nil
}

func (w *Worker) newOutboxRow(job *types.IngestionJob, src *types.KnowledgeSource, op, chunkID string) *types.VectorOutbox {
	return &types.VectorOutbox{
		ID:            uuid.New(),
		JobID:         job.ID,
		ChatbotID:     job.ChatbotID,
		SourceID:      src.ID,
		Op:            op,
		ChunkID:       chunkID,
		Status:        types.OutboxStatusPending,
		NextAttemptAt: w.now(),
	}
}

// markStaged records that staging committed. The finalizer uses staged_at to
// tell a legitimately empty job apart from one that crashed before staging.
func (w *Worker) markStaged(ctx context.Context, job *types.IngestionJob, total int, lastErr string) error {
	updates := map[string]interface{}{
		"staged_at":    w.now(),
		"total_chunks": total,
	}
	if lastErr != "" {
		updates["last_error"] = lastErr
	}
	return w.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, updates)
}

func (w *Worker) markSourceFailed(ctx context.Context, sourceID uuid.UUID) {
	if err := w.sources.UpdateFields(dbctx.Context{Ctx: ctx}, sourceID, map[string]interface{}{
		"status": types.SourceStatusFailed,
	}); err != nil {
		w.log.Warn("Source status update failed", "source_id", sourceID, "error", err)
	}
}

func (w *Worker) failJobAtStaging(ctx context.Context, job *types.IngestionJob, cause error) {
	w.log.Warn("Job staging failed", "job_id", job.ID, "kind", job.Kind, "error", cause)

	dbc := dbctx.Context{Ctx: ctx}
	now := w.now()
	if err := w.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":      types.JobStatusFailed,
		"last_error":  cause.Error(),
		"finished_at": now,
	}); err != nil {
		w.log.Error("Job failure update failed", "job_id", job.ID, "error", err)
		return
	}
	if job.SourceID != nil {
		w.markSourceFailed(ctx, *job.SourceID)
	}

	job.Status = types.JobStatusFailed
	job.LastError = cause.Error()
	job.FinishedAt = &now
	w.notify.JobFailed(ctx, job)
}

// chunkMetadata builds the citation payload a chunk row carries into the
// vector index.
func chunkMetadata(c *types.KnowledgeChunk) vector.ChunkMetadata {
	return vector.ChunkMetadata{
		ChatbotID:        c.ChatbotID.String(),
		ChunkID:          c.ChunkID,
		SourceID:         c.SourceID.String(),
		SourceType:       c.SourceType,
		URI:              c.URI,
		CanonicalURL:     c.CanonicalURL,
		OriginalURL:      c.OriginalURL,
		ExtractionMethod: c.ExtractionMethod,
		TextQuality:      c.TextQuality,
		Title:            c.Title,
		PageNo:           c.PageNo,
		StartOffset:      c.StartOffset,
		EndOffset:        c.EndOffset,
		SourceRevision:   c.SourceRevision,
		EmbeddingModel:   c.EmbeddingModel,
		EmbeddingDims:    c.EmbeddingDims,
	}
}
