package sources

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
)

type SourceRepo interface {
	Create(dbc dbctx.Context, src *types.KnowledgeSource) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.KnowledgeSource, error)
	GetByChatbotAndURI(dbc dbctx.Context, chatbotID uuid.UUID, uri string) (*types.KnowledgeSource, error)
	ListByChatbot(dbc dbctx.Context, chatbotID uuid.UUID) ([]*types.KnowledgeSource, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsByLastJob updates every source whose latest staging was
	// done by the given job. Multi-source jobs finalize through this.
	UpdateFieldsByLastJob(dbc dbctx.Context, jobID uuid.UUID, updates map[string]interface{}) error
	HardDelete(dbc dbctx.Context, id uuid.UUID) error
}

type sourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return &sourceRepo{
		db:  db,
		log: baseLog.With("repo", "SourceRepo"),
	}
}

func (r *sourceRepo) Create(dbc dbctx.Context, src *types.KnowledgeSource) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(src).Error
}

func (r *sourceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.KnowledgeSource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var src types.KnowledgeSource
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (r *sourceRepo) GetByChatbotAndURI(dbc dbctx.Context, chatbotID uuid.UUID, uri string) (*types.KnowledgeSource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if uri == "" {
		return nil, nil
	}
	var src types.KnowledgeSource
	err := transaction.WithContext(dbc.Ctx).
		Where("chatbot_id = ? AND uri = ?", chatbotID, uri).
		Order("created_at ASC").
		First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (r *sourceRepo) ListByChatbot(dbc dbctx.Context, chatbotID uuid.UUID) ([]*types.KnowledgeSource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgeSource
	if err := transaction.WithContext(dbc.Ctx).
		Where("chatbot_id = ?", chatbotID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sourceRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.KnowledgeSource{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *sourceRepo) UpdateFieldsByLastJob(dbc dbctx.Context, jobID uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.KnowledgeSource{}).
		Where("last_job_id = ?", jobID).
		Updates(updates).Error
}

func (r *sourceRepo) HardDelete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Unscoped().
		Where("id = ?", id).
		Delete(&types.KnowledgeSource{}).Error
}
