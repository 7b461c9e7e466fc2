package embed

import (
	"context"
	"errors"
	"math"
)

// DefaultDimensions matches text-embedding-3-small and is the width every
// vector in the index is conformed to.
const DefaultDimensions = 1536

var ErrEmptyInput = errors.New("embed: empty input")

// Provider turns text into a fixed-width embedding vector. Implementations
// must be deterministic for the deterministic provider and are expected to
// return vectors of Dimensions() width; Conform repairs any drift.
type Provider interface {
	Model() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Conform pads or truncates vec to dims and L2-normalizes the result so
// cosine scores from the index stay comparable across providers.
func Conform(vec []float32, dims int) []float32 {
	out := make([]float32, dims)
	copy(out, vec)

	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}
