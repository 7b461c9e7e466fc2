package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillbase/quillbase-backend/internal/data/repos/outbox"
	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
)

// In-memory repo fakes so the staging/drain/finalize pipeline can run
// end to end without Postgres.

type fakeTxRunner struct{}

func (fakeTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return fn(dbctx.Context{Ctx: ctx})
}

// ---------------- jobs ----------------

type fakeJobRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.IngestionJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{rows: map[uuid.UUID]*types.IngestionJob{}}
}

func (r *fakeJobRepo) Create(_ dbctx.Context, job *types.IngestionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.rows[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeJobRepo) ListByChatbot(_ dbctx.Context, chatbotID uuid.UUID, _ int) ([]*types.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.IngestionJob
	for _, row := range r.rows {
		if row.ChatbotID == chatbotID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) ListRunning(_ dbctx.Context) ([]*types.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.IngestionJob
	for _, row := range r.rows {
		if row.Status == types.JobStatusRunning {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeJobRepo) ClaimOldestPending(_ dbctx.Context) (*types.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *types.IngestionJob
	for _, row := range r.rows {
		if row.Status != types.JobStatusPending {
			continue
		}
		if oldest == nil || row.CreatedAt.Before(oldest.CreatedAt) {
			oldest = row
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now()
	oldest.Status = types.JobStatusRunning
	oldest.StartedAt = &now
	cp := *oldest
	return &cp, nil
}

func (r *fakeJobRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			row.Status = v.(string)
		case "last_error":
			row.LastError = v.(string)
		case "total_chunks":
			row.TotalChunks = v.(int)
		case "staged_at":
			t := v.(time.Time)
			row.StagedAt = &t
		case "started_at":
			t := v.(time.Time)
			row.StartedAt = &t
		case "finished_at":
			t := v.(time.Time)
			row.FinishedAt = &t
		}
	}
	return nil
}

func (r *fakeJobRepo) RecordChunkSuccess(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.SucceededChunks++
	}
	return nil
}

func (r *fakeJobRepo) RecordChunkFailure(_ dbctx.Context, id uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.FailedChunks++
		row.LastError = lastError
	}
	return nil
}

// ---------------- sources ----------------

type fakeSourceRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.KnowledgeSource
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{rows: map[uuid.UUID]*types.KnowledgeSource{}}
}

func (r *fakeSourceRepo) Create(_ dbctx.Context, src *types.KnowledgeSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *src
	r.rows[src.ID] = &cp
	return nil
}

func (r *fakeSourceRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.KnowledgeSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeSourceRepo) GetByChatbotAndURI(_ dbctx.Context, chatbotID uuid.UUID, uri string) (*types.KnowledgeSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ChatbotID == chatbotID && row.URI == uri {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeSourceRepo) ListByChatbot(_ dbctx.Context, chatbotID uuid.UUID) ([]*types.KnowledgeSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.KnowledgeSource
	for _, row := range r.rows {
		if row.ChatbotID == chatbotID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSourceRepo) applyUpdates(row *types.KnowledgeSource, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			row.Status = v.(string)
		case "source_revision":
			row.SourceRevision = v.(string)
		case "last_job_id":
			id := v.(uuid.UUID)
			row.LastJobID = &id
		case "last_ingested_at":
			t := v.(time.Time)
			row.LastIngestedAt = &t
		}
	}
}

func (r *fakeSourceRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		r.applyUpdates(row, updates)
	}
	return nil
}

func (r *fakeSourceRepo) UpdateFieldsByLastJob(_ dbctx.Context, jobID uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.LastJobID != nil && *row.LastJobID == jobID {
			r.applyUpdates(row, updates)
		}
	}
	return nil
}

func (r *fakeSourceRepo) HardDelete(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

// ---------------- chunks ----------------

type fakeChunkRepo struct {
	mu   sync.Mutex
	rows map[string]*types.KnowledgeChunk
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{rows: map[string]*types.KnowledgeChunk{}}
}

func (r *fakeChunkRepo) CreateMany(_ dbctx.Context, chunks []*types.KnowledgeChunk) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range chunks {
		if _, exists := r.rows[c.ChunkID]; exists {
			continue
		}
		cp := *c
		r.rows[c.ChunkID] = &cp
		n++
	}
	return n, nil
}

func (r *fakeChunkRepo) GetByID(_ dbctx.Context, chunkID string) (*types.KnowledgeChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[chunkID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeChunkRepo) GetLiveByChunkIDs(_ dbctx.Context, chatbotID uuid.UUID, ids []string) ([]*types.KnowledgeChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.KnowledgeChunk
	for _, id := range ids {
		row, ok := r.rows[id]
		if !ok || row.ChatbotID != chatbotID || row.DeletedAt != nil {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeChunkRepo) ListActiveBySource(_ dbctx.Context, sourceID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.KnowledgeChunk
	for _, row := range r.rows {
		if row.SourceID == sourceID && row.DeletedAt == nil {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out, nil
}

func (r *fakeChunkRepo) SoftDeleteActiveBySource(_ dbctx.Context, sourceID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var ids []string
	for _, row := range r.rows {
		if row.SourceID == sourceID && row.DeletedAt == nil {
			t := now
			row.DeletedAt = &t
			ids = append(ids, row.ChunkID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeChunkRepo) HardDelete(_ dbctx.Context, chunkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[chunkID]; ok && row.DeletedAt != nil {
		delete(r.rows, chunkID)
	}
	return nil
}

func (r *fakeChunkRepo) CountLiveBySource(_ dbctx.Context, sourceID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.SourceID == sourceID && row.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

// ---------------- outbox ----------------

type fakeOutboxRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.VectorOutbox
	keys map[string]bool
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{
		rows: map[uuid.UUID]*types.VectorOutbox{},
		keys: map[string]bool{},
	}
}

func outboxKey(row *types.VectorOutbox) string {
	return row.JobID.String() + "|" + row.Op + "|" + row.ChunkID
}

func (r *fakeOutboxRepo) EnqueueMany(_ dbctx.Context, rows []*types.VectorOutbox) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range rows {
		key := outboxKey(row)
		if r.keys[key] {
			continue
		}
		r.keys[key] = true
		cp := *row
		r.rows[row.ID] = &cp
		n++
	}
	return n, nil
}

func (r *fakeOutboxRepo) ClaimBatch(_ dbctx.Context, limit int, maxAttempts int) ([]*types.VectorOutbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var due []*types.VectorOutbox
	for _, row := range r.rows {
		if row.Status != types.OutboxStatusPending && row.Status != types.OutboxStatusFailed {
			continue
		}
		if row.NextAttemptAt.After(now) || row.Attempts >= maxAttempts {
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*types.VectorOutbox, 0, len(due))
	for _, row := range due {
		row.Status = types.OutboxStatusRunning
		t := now
		row.ClaimedAt = &t
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkSucceeded(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.Status = types.OutboxStatusSucceeded
		now := time.Now()
		row.ProcessedAt = &now
	}
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(_ dbctx.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.Status = types.OutboxStatusFailed
		row.Attempts++
		row.LastError = lastError
		row.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (r *fakeOutboxRepo) ReclaimStale(_ dbctx.Context, stuckBefore time.Time, maxAttempts int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.Status == types.OutboxStatusRunning && row.ClaimedAt != nil &&
			row.ClaimedAt.Before(stuckBefore) && row.Attempts < maxAttempts {
			row.Status = types.OutboxStatusFailed
			row.NextAttemptAt = time.Now()
			row.LastError = "reclaimed: stale RUNNING outbox row"
			n++
		}
	}
	return n, nil
}

func (r *fakeOutboxRepo) CountsByJob(_ dbctx.Context, jobID uuid.UUID, maxAttempts int) (outbox.JobCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts outbox.JobCounts
	for _, row := range r.rows {
		if row.JobID != jobID {
			continue
		}
		counts.Total++
		switch row.Status {
		case types.OutboxStatusPending:
			counts.Pending++
		case types.OutboxStatusRunning:
			counts.Running++
		case types.OutboxStatusSucceeded:
			counts.Succeeded++
		case types.OutboxStatusFailed:
			if row.Attempts >= maxAttempts {
				counts.FailedTerminal++
			} else {
				counts.FailedRetryable++
			}
		}
	}
	return counts, nil
}

func (r *fakeOutboxRepo) ListByJob(_ dbctx.Context, jobID uuid.UUID) ([]*types.VectorOutbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.VectorOutbox
	for _, row := range r.rows {
		if row.JobID == jobID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------- chatbots ----------------

type fakeChatbotRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Chatbot
}

func newFakeChatbotRepo() *fakeChatbotRepo {
	return &fakeChatbotRepo{rows: map[uuid.UUID]*types.Chatbot{}}
}

func (r *fakeChatbotRepo) Create(_ dbctx.Context, bot *types.Chatbot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *bot
	r.rows[bot.ID] = &cp
	return nil
}

func (r *fakeChatbotRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Chatbot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeChatbotRepo) List(_ dbctx.Context) ([]*types.Chatbot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Chatbot
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeChatbotRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		if v, has := updates["status"]; has {
			row.Status = v.(string)
		}
		if v, has := updates["name"]; has {
			row.Name = v.(string)
		}
	}
	return nil
}

func (r *fakeChatbotRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}
