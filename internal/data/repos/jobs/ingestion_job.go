package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.IngestionJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IngestionJob, error)
	ListByChatbot(dbc dbctx.Context, chatbotID uuid.UUID, limit int) ([]*types.IngestionJob, error)
	ListRunning(dbc dbctx.Context) ([]*types.IngestionJob, error)
	// ClaimOldestPending atomically flips the oldest PENDING job to RUNNING.
	// Returns nil when no job is available or another worker won the claim.
	ClaimOldestPending(dbc dbctx.Context) (*types.IngestionJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	RecordChunkSuccess(dbc dbctx.Context, id uuid.UUID) error
	RecordChunkFailure(dbc dbctx.Context, id uuid.UUID, lastError string) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.IngestionJob) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(job).Error
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IngestionJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.IngestionJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) ListByChatbot(dbc dbctx.Context, chatbotID uuid.UUID, limit int) ([]*types.IngestionJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.IngestionJob
	if err := transaction.WithContext(dbc.Ctx).
		Where("chatbot_id = ?", chatbotID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ListRunning(dbc dbctx.Context) ([]*types.IngestionJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IngestionJob
	if err := transaction.WithContext(dbc.Ctx).
		Where("status = ?", types.JobStatusRunning).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ClaimOldestPending(dbc dbctx.Context) (*types.IngestionJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	var claimed *types.IngestionJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.IngestionJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.JobStatusPending).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		res := txx.Model(&types.IngestionJob{}).
			Where("id = ? AND status = ?", job.ID, types.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     types.JobStatusRunning,
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race; another worker claimed it.
			return nil
		}

		job.Status = types.JobStatusRunning
		job.StartedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) RecordChunkSuccess(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"succeeded_chunks": gorm.Expr("succeeded_chunks + 1"),
			"updated_at":       time.Now(),
		}).Error
}

func (r *jobRepo) RecordChunkFailure(dbc dbctx.Context, id uuid.UUID, lastError string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_chunks": gorm.Expr("failed_chunks + 1"),
			"last_error":    lastError,
			"updated_at":    time.Now(),
		}).Error
}
