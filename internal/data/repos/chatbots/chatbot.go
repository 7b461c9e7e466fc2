package chatbots

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
)

type ChatbotRepo interface {
	Create(dbc dbctx.Context, bot *types.Chatbot) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chatbot, error)
	List(dbc dbctx.Context) ([]*types.Chatbot, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type chatbotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatbotRepo(db *gorm.DB, baseLog *logger.Logger) ChatbotRepo {
	return &chatbotRepo{
		db:  db,
		log: baseLog.With("repo", "ChatbotRepo"),
	}
}

func (r *chatbotRepo) Create(dbc dbctx.Context, bot *types.Chatbot) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(bot).Error
}

func (r *chatbotRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chatbot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var bot types.Chatbot
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *chatbotRepo) List(dbc dbctx.Context) ([]*types.Chatbot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chatbot
	if err := transaction.WithContext(dbc.Ctx).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatbotRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Chatbot{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chatbotRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Chatbot{}).Error
}
