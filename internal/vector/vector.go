package vector

import (
	"context"
	"errors"
	"fmt"
)

// Source type vocabulary shared by the manifest and the vector payload.
const (
	SourceTypeWeb  = "WEB"
	SourceTypePDF  = "PDF"
	SourceTypeText = "TEXT"
)

// ChunkMetadata is the full citation payload stored alongside each chunk
// vector. It mirrors the durable manifest row, so a citation can be rendered
// from either side. Keeping it a struct instead of a loose map means every
// write path states exactly which fields ride on the vector, and Validate
// rejects partial payloads before they reach the index.
type ChunkMetadata struct {
	ChatbotID        string
	ChunkID          string
	SourceID         string
	SourceType       string
	URI              string
	CanonicalURL     string
	OriginalURL      string
	ExtractionMethod string
	TextQuality      string
	Title            string
	PageNo           *int
	StartOffset      int
	EndOffset        int
	SourceRevision   string
	EmbeddingModel   string
	EmbeddingDims    int
}

func (m ChunkMetadata) Validate() error {
	if m.ChatbotID == "" {
		return errors.New("chunk metadata: chatbot id required")
	}
	if m.ChunkID == "" {
		return errors.New("chunk metadata: chunk id required")
	}
	if m.SourceID == "" {
		return errors.New("chunk metadata: source id required")
	}
	if m.SourceRevision == "" {
		return errors.New("chunk metadata: source revision required")
	}
	switch m.SourceType {
	case SourceTypeWeb:
		if m.URI == "" {
			return errors.New("chunk metadata: web chunk requires uri")
		}
	case SourceTypePDF:
		if m.PageNo == nil {
			return errors.New("chunk metadata: pdf chunk requires page_no")
		}
	case SourceTypeText:
	default:
		return fmt.Errorf("chunk metadata: unknown source type %q", m.SourceType)
	}
	if m.PageNo != nil && *m.PageNo < 1 {
		return fmt.Errorf("chunk metadata: page_no must be >= 1, got %d", *m.PageNo)
	}
	if m.EndOffset <= m.StartOffset {
		return fmt.Errorf("chunk metadata: end_offset %d must exceed start_offset %d", m.EndOffset, m.StartOffset)
	}
	return nil
}

// ToMap renders the metadata in the wire shape vector backends accept.
func (m ChunkMetadata) ToMap() map[string]any {
	out := map[string]any{
		"chatbot_id":      m.ChatbotID,
		"chunk_id":        m.ChunkID,
		"source_id":       m.SourceID,
		"source_type":     m.SourceType,
		"source_revision": m.SourceRevision,
		"start_offset":    m.StartOffset,
		"end_offset":      m.EndOffset,
	}
	if m.URI != "" {
		out["uri"] = m.URI
	}
	if m.CanonicalURL != "" {
		out["canonical_url"] = m.CanonicalURL
	}
	if m.OriginalURL != "" {
		out["original_url"] = m.OriginalURL
	}
	if m.ExtractionMethod != "" {
		out["extraction_method"] = m.ExtractionMethod
	}
	if m.TextQuality != "" {
		out["text_quality"] = m.TextQuality
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	if m.PageNo != nil {
		out["page_no"] = *m.PageNo
	}
	if m.EmbeddingModel != "" {
		out["embedding_model"] = m.EmbeddingModel
	}
	if m.EmbeddingDims > 0 {
		out["embedding_dimensions"] = m.EmbeddingDims
	}
	return out
}

// Vector is one chunk embedding addressed by its content-derived chunk id.
type Vector struct {
	ID       string
	Values   []float32
	Metadata ChunkMetadata
}

// Match is a query hit. Score is similarity, higher is better.
type Match struct {
	ID    string
	Score float64
}

// Store is the vector index boundary. Namespaces isolate chatbots; all ids
// are content-derived chunk ids, so re-upserting the same chunk is a no-op
// in effect and the outbox can deliver at-least-once.
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int) ([]Match, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}
