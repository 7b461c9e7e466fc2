package db

import (
	"gorm.io/gorm"

	"github.com/quillbase/quillbase-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Chatbot{},
		&domain.KnowledgeSource{},
		&domain.IngestionJob{},
		&domain.KnowledgeChunk{},
		&domain.VectorOutbox{},
		&domain.Conversation{},
		&domain.ChatMessage{},
	)
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Running auto-migration")
	if err := AutoMigrateAll(s.db); err != nil {
		return err
	}
	s.log.Info("Auto-migration complete")
	return nil
}
