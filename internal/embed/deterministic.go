package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DeterministicProvider derives a unit vector from the sha256 of the input
// text. Identical text always embeds identically, so ingestion and retrieval
// paths can be exercised end to end without a network dependency. Local and
// test use only.
type DeterministicProvider struct {
	dims int
}

func NewDeterministicProvider() *DeterministicProvider {
	return &DeterministicProvider{dims: DefaultDimensions}
}

func (p *DeterministicProvider) Model() string   { return "deterministic-sha256" }
func (p *DeterministicProvider) Dimensions() int { return p.dims }

func (p *DeterministicProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)

	// Chain sha256 blocks: each digest seeds the next, each 8-byte window
	// becomes one component in [-1, 1).
	seed := sha256.Sum256([]byte(text))
	i := 0
	for i < p.dims {
		for off := 0; off+8 <= len(seed) && i < p.dims; off += 8 {
			u := binary.BigEndian.Uint64(seed[off : off+8])
			vec[i] = float32(float64(u)/float64(math.MaxUint64)*2 - 1)
			i++
		}
		seed = sha256.Sum256(seed[:])
	}

	return Conform(vec, p.dims), nil
}

func (p *DeterministicProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
