package chunks

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

type ChunkRepo interface {
	// CreateMany inserts chunk rows, skipping ids that already exist.
	// Re-ingesting identical content is a safe no-op because content-derived
	// ids collide. Returns the number of rows actually inserted.
	CreateMany(dbc dbctx.Context, chunks []*types.KnowledgeChunk) (int64, error)
	// GetByID returns the row regardless of soft-delete state.
	GetByID(dbc dbctx.Context, chunkID string) (*types.KnowledgeChunk, error)
	// GetLiveByChunkIDs returns only non-soft-deleted rows among ids.
	GetLiveByChunkIDs(dbc dbctx.Context, chatbotID uuid.UUID, ids []string) ([]*types.KnowledgeChunk, error)
	ListActiveBySource(dbc dbctx.Context, sourceID uuid.UUID) ([]*types.KnowledgeChunk, error)
	// SoftDeleteActiveBySource marks every live chunk of the source deleted
	// and returns the affected chunk ids so DELETE outbox rows can be queued.
	SoftDeleteActiveBySource(dbc dbctx.Context, sourceID uuid.UUID) ([]string, error)
	// HardDelete removes a soft-deleted manifest row after the vector index
	// confirmed removal. Live rows are left untouched.
	HardDelete(dbc dbctx.Context, chunkID string) error
	CountLiveBySource(dbc dbctx.Context, sourceID uuid.UUID) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{
		db:  db,
		log: baseLog.With("repo", "ChunkRepo"),
	}
}

func (r *chunkRepo) CreateMany(dbc dbctx.Context, chunks []*types.KnowledgeChunk) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			DoNothing: true,
		}).
		Create(&chunks)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *chunkRepo) GetByID(dbc dbctx.Context, chunkID string) (*types.KnowledgeChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var chunk types.KnowledgeChunk
	err := transaction.WithContext(dbc.Ctx).
		Where("chunk_id = ?", chunkID).
		First(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (r *chunkRepo) GetLiveByChunkIDs(dbc dbctx.Context, chatbotID uuid.UUID, ids []string) ([]*types.KnowledgeChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgeChunk
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("chatbot_id = ? AND chunk_id IN ? AND deleted_at IS NULL", chatbotID, ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListActiveBySource(dbc dbctx.Context, sourceID uuid.UUID) ([]*types.KnowledgeChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.KnowledgeChunk
	if err := transaction.WithContext(dbc.Ctx).
		Where("source_id = ? AND deleted_at IS NULL", sourceID).
		Order("start_offset ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) SoftDeleteActiveBySource(dbc dbctx.Context, sourceID uuid.UUID) ([]string, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []string
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.KnowledgeChunk{}).
		Where("source_id = ? AND deleted_at IS NULL", sourceID).
		Pluck("chunk_id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	now := time.Now()
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.KnowledgeChunk{}).
		Where("chunk_id IN ?", ids).
		Updates(map[string]interface{}{
			"deleted_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *chunkRepo) HardDelete(dbc dbctx.Context, chunkID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("chunk_id = ? AND deleted_at IS NOT NULL", chunkID).
		Delete(&types.KnowledgeChunk{}).Error
}

func (r *chunkRepo) CountLiveBySource(dbc dbctx.Context, sourceID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.KnowledgeChunk{}).
		Where("source_id = ? AND deleted_at IS NULL", sourceID).
		Count(&n).Error
	return n, err
}
