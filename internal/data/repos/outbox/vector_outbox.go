package outbox

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
)

// JobCounts buckets a job's outbox rows the way the finalizer reasons about
// them: terminal failures are rows FAILED at the attempt ceiling, retryable
// failures still have headroom.
type JobCounts struct {
	Total           int64
	Pending         int64
	Running         int64
	Succeeded       int64
	FailedRetryable int64
	FailedTerminal  int64
}

type OutboxRepo interface {
	// EnqueueMany inserts outbox rows, ignoring (job_id, op, chunk_id)
	// duplicates. Returns the number of rows actually inserted.
	EnqueueMany(dbc dbctx.Context, rows []*types.VectorOutbox) (int64, error)
	// ClaimBatch flips up to limit due rows (PENDING, or FAILED with
	// attempts under the ceiling and next_attempt_at in the past) to
	// RUNNING and returns them.
	ClaimBatch(dbc dbctx.Context, limit int, maxAttempts int) ([]*types.VectorOutbox, error)
	MarkSucceeded(dbc dbctx.Context, id uuid.UUID) error
	// MarkFailed records the error, bumps the attempt counter and schedules
	// the next try.
	MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error
	// ReclaimStale forces rows stuck in RUNNING past the cutoff back to
	// FAILED with an immediate next attempt, provided attempts remain.
	ReclaimStale(dbc dbctx.Context, stuckBefore time.Time, maxAttempts int) (int64, error)
	CountsByJob(dbc dbctx.Context, jobID uuid.UUID, maxAttempts int) (JobCounts, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.VectorOutbox, error)
}

type outboxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return &outboxRepo{
		db:  db,
		log: baseLog.With("repo", "OutboxRepo"),
	}
}

func (r *outboxRepo) EnqueueMany(dbc dbctx.Context, rows []*types.VectorOutbox) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "op"}, {Name: "chunk_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *outboxRepo) ClaimBatch(dbc dbctx.Context, limit int, maxAttempts int) ([]*types.VectorOutbox, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 16
	}
	now := time.Now()
	var claimed []*types.VectorOutbox
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var due []*types.VectorOutbox
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND next_attempt_at <= ? AND attempts < ?",
				[]string{types.OutboxStatusPending, types.OutboxStatusFailed}, now, maxAttempts).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(due))
		for _, row := range due {
			ids = append(ids, row.ID)
		}
		if err := txx.Model(&types.VectorOutbox{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     types.OutboxStatusRunning,
				"claimed_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		for _, row := range due {
			row.Status = types.OutboxStatusRunning
			claimedAt := now
			row.ClaimedAt = &claimedAt
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *outboxRepo) MarkSucceeded(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.VectorOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       types.OutboxStatusSucceeded,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (r *outboxRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.VectorOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          types.OutboxStatusFailed,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      lastError,
			"next_attempt_at": nextAttemptAt,
			"updated_at":      time.Now(),
		}).Error
}

func (r *outboxRepo) ReclaimStale(dbc dbctx.Context, stuckBefore time.Time, maxAttempts int) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.VectorOutbox{}).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at < ? AND attempts < ?",
			types.OutboxStatusRunning, stuckBefore, maxAttempts).
		Updates(map[string]interface{}{
			"status":          types.OutboxStatusFailed,
			"last_error":      "reclaimed: stale RUNNING outbox row",
			"next_attempt_at": time.Now(),
			"updated_at":      time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *outboxRepo) CountsByJob(dbc dbctx.Context, jobID uuid.UUID, maxAttempts int) (JobCounts, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status   string
		Attempts int
		N        int64
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.VectorOutbox{}).
		Select("status, attempts, count(*) as n").
		Where("job_id = ?", jobID).
		Group("status, attempts").
		Find(&rows).Error; err != nil {
		return JobCounts{}, err
	}

	var counts JobCounts
	for _, row := range rows {
		counts.Total += row.N
		switch row.Status {
		case types.OutboxStatusPending:
			counts.Pending += row.N
		case types.OutboxStatusRunning:
			counts.Running += row.N
		case types.OutboxStatusSucceeded:
			counts.Succeeded += row.N
		case types.OutboxStatusFailed:
			if row.Attempts >= maxAttempts {
				counts.FailedTerminal += row.N
			} else {
				counts.FailedRetryable += row.N
			}
		}
	}
	return counts, nil
}

func (r *outboxRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.VectorOutbox, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VectorOutbox
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
