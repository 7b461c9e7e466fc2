package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	SourceTypeURL  = "URL"
	SourceTypeText = "TEXT"
	SourceTypeFile = "FILE"
)

const (
	SourceStatusPending = "PENDING"
	SourceStatusReady   = "READY"
	SourceStatusFailed  = "FAILED"
)

// KnowledgeSource is a named, addressable input. Its status oscillates
// PENDING to READY or FAILED on every re-ingestion; the row is hard-deleted
// only after its vectors are confirmed removed.
type KnowledgeSource struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatbotID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"chatbot_id"`
	Title            string     `gorm:"column:title" json:"title,omitempty"`
	SourceType       string     `gorm:"column:source_type;not null;index" json:"source_type"`
	URI              string     `gorm:"column:uri;index" json:"uri,omitempty"`
	CanonicalURL     string     `gorm:"column:canonical_url" json:"canonical_url,omitempty"`
	OriginalURL      string     `gorm:"column:original_url" json:"original_url,omitempty"`
	ExtractionMethod string     `gorm:"column:extraction_method" json:"extraction_method,omitempty"`
	TextQuality      string     `gorm:"column:text_quality" json:"text_quality,omitempty"`
	Status           string     `gorm:"column:status;not null;index" json:"status"`
	SourceRevision   string     `gorm:"column:source_revision;index" json:"source_revision,omitempty"`
	LastJobID        *uuid.UUID `gorm:"type:uuid;column:last_job_id" json:"last_job_id,omitempty"`
	LastIngestedAt   *time.Time `gorm:"column:last_ingested_at" json:"last_ingested_at,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeSource) TableName() string { return "knowledge_source" }
