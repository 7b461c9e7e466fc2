package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quillbase/quillbase-backend/internal/data/repos/chatbots"
	"github.com/quillbase/quillbase-backend/internal/data/repos/chunks"
	"github.com/quillbase/quillbase-backend/internal/data/repos/jobs"
	"github.com/quillbase/quillbase-backend/internal/data/repos/outbox"
	"github.com/quillbase/quillbase-backend/internal/data/repos/sources"
	"github.com/quillbase/quillbase-backend/internal/embed"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
	"github.com/quillbase/quillbase-backend/internal/services/events"
	"github.com/quillbase/quillbase-backend/internal/vector"
)

// TxRunner runs a function inside one durable-store transaction. Staging a
// source is the only place the worker needs multi-statement atomicity.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type Config struct {
	PollInterval     time.Duration
	DrainBatch       int
	DrainConcurrency int
	MaxAttempts      int
	// StaleRunningTTL bounds how long an outbox row may sit RUNNING before
	// it is reclaimed (crash mid-attempt).
	StaleRunningTTL time.Duration
	// JobStuckTTL bounds how long a job may sit RUNNING with zero outbox
	// rows and no staging mark before it is failed.
	JobStuckTTL  time.Duration
	ChunkSize    int
	ChunkOverlap int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 16
	}
	if c.DrainConcurrency <= 0 {
		c.DrainConcurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.StaleRunningTTL <= 0 {
		c.StaleRunningTTL = 5 * time.Minute
	}
	if c.JobStuckTTL <= 0 {
		c.JobStuckTTL = 10 * time.Minute
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1200
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 200
	}
}

// Worker claims PENDING ingestion jobs, stages chunk manifests inside
// transactions, drains the vector outbox with retry/backoff and finalizes
// job status from the outbox's terminal states.
type Worker struct {
	log      *logger.Logger
	tx       TxRunner
	jobs     jobs.JobRepo
	sources  sources.SourceRepo
	chunks   chunks.ChunkRepo
	outbox   outbox.OutboxRepo
	chatbots chatbots.ChatbotRepo
	store    vector.Store
	embedder embed.Provider
	notify   events.JobNotifier
	cfg      Config

	inFlight atomic.Bool
	now      func() time.Time
}

func New(
	log *logger.Logger,
	tx TxRunner,
	jobRepo jobs.JobRepo,
	sourceRepo sources.SourceRepo,
	chunkRepo chunks.ChunkRepo,
	outboxRepo outbox.OutboxRepo,
	chatbotRepo chatbots.ChatbotRepo,
	store vector.Store,
	embedder embed.Provider,
	notify events.JobNotifier,
	cfg Config,
) (*Worker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embed provider required")
	}
	if notify == nil {
		notify = events.NewNoopNotifier()
	}
	cfg.applyDefaults()

	return &Worker{
		log:      log.With("component", "IngestionWorker"),
		tx:       tx,
		jobs:     jobRepo,
		sources:  sourceRepo,
		chunks:   chunkRepo,
		outbox:   outboxRepo,
		chatbots: chatbotRepo,
		store:    store,
		embedder: embedder,
		notify:   notify,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Start runs the tick loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting ingestion worker",
		"poll_interval", w.cfg.PollInterval.String(),
		"drain_batch", w.cfg.DrainBatch,
		"max_attempts", w.cfg.MaxAttempts,
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Ingestion worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass. The in-flight guard skips the pass when a
// previous one is still running, so slow I/O never stacks overlapping ticks.
func (w *Worker) Tick(ctx context.Context) {
	if !w.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer w.inFlight.Store(false)

	dbc := dbctx.Context{Ctx: ctx}

	if n, err := w.outbox.ReclaimStale(dbc, w.now().Add(-w.cfg.StaleRunningTTL), w.cfg.MaxAttempts); err != nil {
		w.log.Warn("Outbox stale reclaim failed", "error", err)
	} else if n > 0 {
		w.log.Info("Reclaimed stale outbox rows", "count", n)
	}

	w.claimAndStage(ctx)
	w.drainOutbox(ctx)
	w.finalizeRunning(ctx)
}

func (w *Worker) claimAndStage(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := w.jobs.ClaimOldestPending(dbc)
	if err != nil {
		w.log.Warn("Job claim failed", "error", err)
		return
	}
	if job == nil {
		return
	}

	w.log.Info("Claimed ingestion job", "job_id", job.ID, "kind", job.Kind)
	if err := w.stage(ctx, job); err != nil {
		w.failJobAtStaging(ctx, job, err)
	}
}
