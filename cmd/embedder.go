package cmd

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/slvnlrt/memengine/internal/memory"
)

// hashEmbedder is a deterministic, offline stand-in for a real embedding
// provider. It has no semantic value — each vector comes from a SHA-256
// hash of the whole text, so how close two vectors are says nothing about
// how related their texts are — but it satisfies
// memory.Embedder's contract so `memengine serve` can run end to end
// without network access or an API key. Point NewLoop at a provider-backed
// Embedder for anything beyond a local smoke test.
type hashEmbedder struct{}

func (hashEmbedder) Dims() int { return memory.EmbeddingDims }

func (hashEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, memory.EmbeddingDims)
	h := sha256.Sum256([]byte(text))
	for i := range vec {
		b := h[i%len(h)]
		vec[i] = float32(b) - 128
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
