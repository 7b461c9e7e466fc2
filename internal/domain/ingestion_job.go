package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobKindText         = "TEXT"
	JobKindScrape       = "SCRAPE"
	JobKindDeleteSource = "DELETE_SOURCE"
)

const (
	JobStatusPending       = "PENDING"
	JobStatusRunning       = "RUNNING"
	JobStatusSucceeded     = "SUCCEEDED"
	JobStatusFailed        = "FAILED"
	JobStatusPartialFailed = "PARTIAL_FAILED"
)

// IngestionJob is one unit of asynchronous ingestion work. Its terminal
// status is derived from the outbox rows it owns, never set by staging code.
// StagedAt records that the staging transaction committed, which is how the
// finalizer tells "legitimately empty job" apart from "crashed before
// staging".
type IngestionJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatbotID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"chatbot_id"`
	SourceID        *uuid.UUID     `gorm:"type:uuid;column:source_id;index" json:"source_id,omitempty"`
	Kind            string         `gorm:"column:kind;not null;index" json:"kind"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Payload         datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	TotalChunks     int            `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	SucceededChunks int            `gorm:"column:succeeded_chunks;not null;default:0" json:"succeeded_chunks"`
	FailedChunks    int            `gorm:"column:failed_chunks;not null;default:0" json:"failed_chunks"`
	LastError       string         `gorm:"column:last_error" json:"last_error,omitempty"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	StagedAt        *time.Time     `gorm:"column:staged_at" json:"staged_at,omitempty"`
	FinishedAt      *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (IngestionJob) TableName() string { return "ingestion_job" }

// Terminal reports whether the job has reached a final status.
func (j *IngestionJob) Terminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusPartialFailed:
		return true
	}
	return false
}
