package app

import (
	"fmt"

	"github.com/quillbase/quillbase-backend/internal/embed"
	"github.com/quillbase/quillbase-backend/internal/platform/envutil"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
	"github.com/quillbase/quillbase-backend/internal/platform/openai"
	"github.com/quillbase/quillbase-backend/internal/vector"
	"github.com/quillbase/quillbase-backend/internal/vector/memory"
	"github.com/quillbase/quillbase-backend/internal/vector/pinecone"
)

// ErrDevProviderInProduction is the typed bootstrap failure for dev-only
// backends selected in a production environment.
type ErrDevProviderInProduction struct {
	Kind     string
	Provider string
}

func (e *ErrDevProviderInProduction) Error() string {
	return fmt.Sprintf("%s provider %q is not allowed in production", e.Kind, e.Provider)
}

// NewVectorStore selects the vector backend from configuration. The memory
// store never survives a production bootstrap.
func NewVectorStore(log *logger.Logger, cfg Config) (vector.Store, error) {
	switch cfg.VectorProvider {
	case VectorProviderPinecone:
		pc, err := pinecone.New(log, pinecone.Config{
			APIKey:     envutil.String("PINECONE_API_KEY", ""),
			APIVersion: envutil.String("PINECONE_API_VERSION", ""),
			BaseURL:    envutil.String("PINECONE_BASE_URL", ""),
		})
		if err != nil {
			return nil, err
		}
		return pinecone.NewStore(log, pc)
	case VectorProviderMemory:
		if cfg.Production() {
			return nil, &ErrDevProviderInProduction{Kind: "vector", Provider: cfg.VectorProvider}
		}
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.VectorProvider)
	}
}

// NewEmbedProvider selects the embeddings backend from configuration. The
// deterministic provider is test/dev tooling and refused in production.
func NewEmbedProvider(log *logger.Logger, cfg Config, client openai.Client) (embed.Provider, error) {
	switch cfg.EmbedProvider {
	case EmbedProviderOpenAI:
		return embed.NewOpenAIProvider(log, client)
	case EmbedProviderDeterministic:
		if cfg.Production() {
			return nil, &ErrDevProviderInProduction{Kind: "embed", Provider: cfg.EmbedProvider}
		}
		return embed.NewDeterministicProvider(), nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}
