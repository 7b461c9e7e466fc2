package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ChatbotStatusCreated   = "CREATED"
	ChatbotStatusIngesting = "INGESTING"
	ChatbotStatusActive    = "ACTIVE"
	ChatbotStatusFailed    = "FAILED"
)

type Chatbot struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name         string         `gorm:"column:name;not null" json:"name"`
	Description  string         `gorm:"column:description" json:"description,omitempty"`
	SystemPrompt string         `gorm:"column:system_prompt" json:"system_prompt,omitempty"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Chatbot) TableName() string { return "chatbot" }
