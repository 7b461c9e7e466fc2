package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxOpUpsert = "UPSERT"
	OutboxOpDelete = "DELETE"
)

const (
	OutboxStatusPending   = "PENDING"
	OutboxStatusRunning   = "RUNNING"
	OutboxStatusSucceeded = "SUCCEEDED"
	OutboxStatusFailed    = "FAILED"
)

// VectorOutbox is one queued vector-index operation. The unique index on
// (job_id, op, chunk_id) guarantees an operation is never duplicated within
// a job, which together with content-derived chunk ids makes at-least-once
// delivery safe.
type VectorOutbox struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID         uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uniq_outbox_job_op_chunk" json:"job_id"`
	ChatbotID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"chatbot_id"`
	SourceID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"source_id"`
	Op            string     `gorm:"column:op;not null;uniqueIndex:uniq_outbox_job_op_chunk" json:"op"`
	ChunkID       string     `gorm:"column:chunk_id;not null;index;uniqueIndex:uniq_outbox_job_op_chunk" json:"chunk_id"`
	Status        string     `gorm:"column:status;not null;index" json:"status"`
	Attempts      int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError     string     `gorm:"column:last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index" json:"next_attempt_at"`
	ClaimedAt     *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (VectorOutbox) TableName() string { return "vector_outbox" }
