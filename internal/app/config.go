package app

import (
	"time"

	"github.com/quillbase/quillbase-backend/internal/platform/envutil"
	"github.com/quillbase/quillbase-backend/internal/services"
	"github.com/quillbase/quillbase-backend/internal/worker"
)

const (
	VectorProviderPinecone = "pinecone"
	VectorProviderMemory   = "memory"

	EmbedProviderOpenAI        = "openai"
	EmbedProviderDeterministic = "deterministic"
)

// Config gathers every tuning knob the pipeline exposes. All values come
// from the environment; the zero-ish defaults match the documented ones.
type Config struct {
	Env         string
	Port        string
	LogMode     string
	ServiceName string

	VectorProvider string
	EmbedProvider  string

	Worker worker.Config
	Chat   services.ChatConfig
}

func LoadConfig() Config {
	return Config{
		Env:         envutil.String("APP_ENV", "development"),
		Port:        envutil.String("PORT", "8080"),
		LogMode:     envutil.String("LOG_MODE", "development"),
		ServiceName: envutil.String("SERVICE_NAME", "quillbase"),

		VectorProvider: envutil.String("VECTOR_PROVIDER", VectorProviderMemory),
		EmbedProvider:  envutil.String("EMBED_PROVIDER", EmbedProviderOpenAI),

		Worker: worker.Config{
			PollInterval:     time.Duration(envutil.Int("WORKER_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
			DrainBatch:       envutil.Int("OUTBOX_DRAIN_BATCH", 16),
			DrainConcurrency: envutil.Int("OUTBOX_DRAIN_CONCURRENCY", 4),
			MaxAttempts:      envutil.Int("OUTBOX_MAX_ATTEMPTS", 5),
			StaleRunningTTL:  time.Duration(envutil.Int("OUTBOX_STALE_RUNNING_SECONDS", 300)) * time.Second,
			JobStuckTTL:      time.Duration(envutil.Int("JOB_STUCK_RUNNING_SECONDS", 600)) * time.Second,
			ChunkSize:        envutil.Int("CHUNK_SIZE", 1200),
			ChunkOverlap:     envutil.Int("CHUNK_OVERLAP", 200),
		},

		Chat: services.ChatConfig{
			QueryRewriteEnabled: envutil.Bool("QUERY_REWRITE_ENABLED", false),
			TopK:                envutil.Int("RETRIEVAL_TOPK", 20),
			TopKMax:             envutil.Int("RETRIEVAL_TOPK_MAX", 1000),
			RerankKeep:          envutil.Int("RERANK_KEEP", 5),
			MinRelevanceScore:   envutil.Float("MIN_RELEVANCE_SCORE", 0.35),
			MinContextChunks:    envutil.Int("MIN_CONTEXT_CHUNKS", 2),
			MinSupportedClaims:  envutil.Int("MIN_SUPPORTED_CLAIMS", 1),
			MaxContextChars:     envutil.Int("MAX_CONTEXT_CHARS", 24000),
		},
	}
}

// Production reports whether the process runs with production guarantees;
// dev-only providers are refused in this mode.
func (c Config) Production() bool {
	switch c.Env {
	case "prod", "production":
		return true
	}
	return false
}
