package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/vector"
)

// Backoff returns the retry delay after the given attempt number (1-based):
// 1s, 2s, 4s, ... capped at 60s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return 60 * time.Second
	}
	d := time.Second << (attempt - 1)
	if d > 60*time.Second {
		return 60 * time.Second
	}
	return d
}

func (w *Worker) drainOutbox(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := w.outbox.ClaimBatch(dbc, w.cfg.DrainBatch, w.cfg.MaxAttempts)
	if err != nil {
		w.log.Warn("Outbox claim failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.DrainConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			w.processOutboxRow(gctx, row)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) processOutboxRow(ctx context.Context, row *types.VectorOutbox) {
	var err error
	switch row.Op {
	case types.OutboxOpUpsert:
		err = w.executeUpsert(ctx, row)
	case types.OutboxOpDelete:
		err = w.executeDelete(ctx, row)
	default:
		err = fmt.Errorf("unknown outbox op %q", row.Op)
	}

	dbc := dbctx.Context{Ctx: ctx}
	if err == nil {
		if mErr := w.outbox.MarkSucceeded(dbc, row.ID); mErr != nil {
			w.log.Error("Outbox success mark failed", "outbox_id", row.ID, "error", mErr)
		}
		if mErr := w.jobs.RecordChunkSuccess(dbc, row.JobID); mErr != nil {
			w.log.Warn("Job success counter update failed", "job_id", row.JobID, "error", mErr)
		}
		return
	}

	attempt := row.Attempts + 1
	next := w.now().Add(Backoff(attempt))
	w.log.Warn("Outbox operation failed",
		"outbox_id", row.ID,
		"op", row.Op,
		"chunk_id", row.ChunkID,
		"attempt", attempt,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", err,
	)
	if mErr := w.outbox.MarkFailed(dbc, row.ID, err.Error(), next); mErr != nil {
		w.log.Error("Outbox failure mark failed", "outbox_id", row.ID, "error", mErr)
	}
	if mErr := w.jobs.RecordChunkFailure(dbc, row.JobID, err.Error()); mErr != nil {
		w.log.Warn("Job failure counter update failed", "job_id", row.JobID, "error", mErr)
	}
}

// executeUpsert re-reads the chunk row, asserts its citation invariants,
// embeds the canonical text and writes the vector with the full citation
// payload. A missing or soft-deleted chunk row is an orphaned reference and
// retries like any other failure.
func (w *Worker) executeUpsert(ctx context.Context, row *types.VectorOutbox) error {
	dbc := dbctx.Context{Ctx: ctx}
	chunk, err := w.chunks.GetByID(dbc, row.ChunkID)
	if err != nil {
		return err
	}
	if chunk == nil || !chunk.Live() {
		return fmt.Errorf("orphaned chunk reference %s", row.ChunkID)
	}

	md := chunkMetadata(chunk)
	if err := md.Validate(); err != nil {
		return err
	}

	vec, err := w.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.ChunkID, err)
	}

	return w.store.Upsert(ctx, row.ChatbotID.String(), []vector.Vector{{
		ID:       chunk.ChunkID,
		Values:   vec,
		Metadata: md,
	}})
}

// executeDelete removes the vector, then hard-deletes the manifest row.
// The hard delete only happens once the index confirmed removal, and only
// for rows already soft-deleted.
func (w *Worker) executeDelete(ctx context.Context, row *types.VectorOutbox) error {
	if err := w.store.DeleteIDs(ctx, row.ChatbotID.String(), []string{row.ChunkID}); err != nil {
		return err
	}
	return w.chunks.HardDelete(dbctx.Context{Ctx: ctx}, row.ChunkID)
}
