package embed

import (
	"context"
	"fmt"

	"github.com/quillbase/quillbase-backend/internal/platform/ctxutil"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
	"github.com/quillbase/quillbase-backend/internal/platform/openai"
)

// OpenAIProvider embeds text through the OpenAI embeddings endpoint and
// conforms every vector to the fixed index width.
type OpenAIProvider struct {
	log    *logger.Logger
	client openai.Client
	model  string
	dims   int
}

func NewOpenAIProvider(log *logger.Logger, client openai.Client) (*OpenAIProvider, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &OpenAIProvider{
		log:    log.With("service", "OpenAIEmbedProvider"),
		client: client,
		model:  "text-embedding-3-small",
		dims:   DefaultDimensions,
	}, nil
}

func (p *OpenAIProvider) Model() string   { return p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dims }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	ctx = ctxutil.Default(ctx)

	raw, err := p.client.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embed batch: requested %d vectors, got %d", len(texts), len(raw))
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		out[i] = Conform(v, p.dims)
	}
	return out, nil
}
