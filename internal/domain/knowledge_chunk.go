package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChunkSourceTypeWeb  = "WEB"
	ChunkSourceTypePDF  = "PDF"
	ChunkSourceTypeText = "TEXT"
)

// KnowledgeChunk is the canonical manifest record for one retrievable unit
// of text. ChunkID is content-derived and doubles as the vector-index id.
// Rows are soft-deleted when a revision is superseded; the hard delete only
// happens after the vector index confirms removal, so DeletedAt is a plain
// timestamp rather than gorm's soft-delete type (queries must see dead rows).
type KnowledgeChunk struct {
	ChunkID          string     `gorm:"column:chunk_id;primaryKey" json:"chunk_id"`
	ChatbotID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"chatbot_id"`
	SourceID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"source_id"`
	SourceType       string     `gorm:"column:source_type;not null" json:"source_type"`
	URI              string     `gorm:"column:uri" json:"uri,omitempty"`
	CanonicalURL     string     `gorm:"column:canonical_url" json:"canonical_url,omitempty"`
	OriginalURL      string     `gorm:"column:original_url" json:"original_url,omitempty"`
	ExtractionMethod string     `gorm:"column:extraction_method" json:"extraction_method,omitempty"`
	TextQuality      string     `gorm:"column:text_quality" json:"text_quality,omitempty"`
	Title            string     `gorm:"column:title" json:"title,omitempty"`
	SourceRevision   string     `gorm:"column:source_revision;not null;index" json:"source_revision"`
	PageNo           *int       `gorm:"column:page_no" json:"page_no,omitempty"`
	StartOffset      int        `gorm:"column:start_offset;not null" json:"start_offset"`
	EndOffset        int        `gorm:"column:end_offset;not null" json:"end_offset"`
	Text             string     `gorm:"column:text;not null" json:"text"`
	TextHash         string     `gorm:"column:text_hash;not null" json:"text_hash"`
	EmbeddingModel   string     `gorm:"column:embedding_model" json:"embedding_model,omitempty"`
	EmbeddingDims    int        `gorm:"column:embedding_dimensions" json:"embedding_dimensions,omitempty"`
	TokenCount       int        `gorm:"column:token_count;not null;default:0" json:"token_count"`
	DeletedAt        *time.Time `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_chunk" }

// Live reports whether the chunk is still part of its source's active set.
func (c *KnowledgeChunk) Live() bool { return c.DeletedAt == nil }
