package worker

import (
	"context"
	"time"

	"github.com/quillbase/quillbase-backend/internal/data/repos/outbox"
	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
)

// jobDecision is what the finalizer concluded for one RUNNING job.
type jobDecision int

const (
	decisionLeaveRunning jobDecision = iota
	decisionFailedStuck
	decisionSucceeded
	decisionPartialFailed
)

// decideJob derives a RUNNING job's fate from its outbox counts. Pure so it
// can be tested against every bucket combination.
//
// A job with zero outbox rows is legitimately empty once staging committed
// (staged_at set); without that mark it is a crash between claim and staging
// and fails after the stuck TTL.
func decideJob(job *types.IngestionJob, counts outbox.JobCounts, now time.Time, stuckTTL time.Duration) jobDecision {
	if counts.Total == 0 {
		if job.StagedAt != nil {
			return decisionSucceeded
		}
		started := job.CreatedAt
		if job.StartedAt != nil {
			started = *job.StartedAt
		}
		if now.Sub(started) > stuckTTL {
			return decisionFailedStuck
		}
		return decisionLeaveRunning
	}

	if counts.Pending > 0 || counts.Running > 0 {
		return decisionLeaveRunning
	}
	if counts.FailedRetryable > 0 {
		return decisionLeaveRunning
	}
	if counts.FailedTerminal > 0 {
		return decisionPartialFailed
	}
	return decisionSucceeded
}

func (w *Worker) finalizeRunning(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	runningJobs, err := w.jobs.ListRunning(dbc)
	if err != nil {
		w.log.Warn("Running job listing failed", "error", err)
		return
	}

	for _, job := range runningJobs {
		counts, err := w.outbox.CountsByJob(dbc, job.ID, w.cfg.MaxAttempts)
		if err != nil {
			w.log.Warn("Outbox counts failed", "job_id", job.ID, "error", err)
			continue
		}

		switch decideJob(job, counts, w.now(), w.cfg.JobStuckTTL) {
		case decisionLeaveRunning:
		case decisionFailedStuck:
			w.finishJob(ctx, job, types.JobStatusFailed, "stuck RUNNING without outbox rows")
		case decisionPartialFailed:
			w.finishJob(ctx, job, types.JobStatusPartialFailed, "")
		case decisionSucceeded:
			w.finishJob(ctx, job, types.JobStatusSucceeded, "")
		}
	}
}

func (w *Worker) finishJob(ctx context.Context, job *types.IngestionJob, status, lastErr string) {
	dbc := dbctx.Context{Ctx: ctx}
	now := w.now()

	updates := map[string]interface{}{
		"status":      status,
		"finished_at": now,
	}
	if lastErr != "" {
		updates["last_error"] = lastErr
	}
	if err := w.jobs.UpdateFields(dbc, job.ID, updates); err != nil {
		w.log.Error("Job finalize update failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = status
	job.FinishedAt = &now
	if lastErr != "" {
		job.LastError = lastErr
	}

	w.log.Info("Job finalized",
		"job_id", job.ID,
		"kind", job.Kind,
		"status", status,
		"succeeded_chunks", job.SucceededChunks,
		"failed_chunks", job.FailedChunks,
	)

	if status == types.JobStatusSucceeded {
		w.applySuccessEffects(ctx, job)
		w.notify.JobCompleted(ctx, job)
		return
	}

	if job.SourceID != nil {
		w.markSourceFailed(ctx, *job.SourceID)
	} else if err := w.sources.UpdateFieldsByLastJob(dbc, job.ID, map[string]interface{}{
		"status": types.SourceStatusFailed,
	}); err != nil {
		w.log.Warn("Source failure update failed", "job_id", job.ID, "error", err)
	}
	w.notify.JobFailed(ctx, job)
}

func (w *Worker) applySuccessEffects(ctx context.Context, job *types.IngestionJob) {
	dbc := dbctx.Context{Ctx: ctx}

	if job.Kind == types.JobKindDeleteSource {
		if job.SourceID != nil {
			if err := w.sources.HardDelete(dbc, *job.SourceID); err != nil {
				w.log.Error("Source hard delete failed", "source_id", *job.SourceID, "error", err)
			}
		}
		return
	}

	if job.SourceID != nil {
		if err := w.sources.UpdateFields(dbc, *job.SourceID, map[string]interface{}{
			"status":           types.SourceStatusReady,
			"last_ingested_at": w.now(),
		}); err != nil {
			w.log.Warn("Source ready update failed", "source_id", *job.SourceID, "error", err)
		}
	} else if err := w.sources.UpdateFieldsByLastJob(dbc, job.ID, map[string]interface{}{
		"status":           types.SourceStatusReady,
		"last_ingested_at": w.now(),
	}); err != nil {
		w.log.Warn("Source ready update failed", "job_id", job.ID, "error", err)
	}

	if err := w.chatbots.UpdateFields(dbc, job.ChatbotID, map[string]interface{}{
		"status": types.ChatbotStatusActive,
	}); err != nil {
		w.log.Warn("Chatbot status update failed", "chatbot_id", job.ChatbotID, "error", err)
	}
}
