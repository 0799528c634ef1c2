package memory

import (
	"context"
	"time"
)

// Scored pairs a memory with a rank-relevant value: cosine distance for
// vector hits (lower is closer), BM25 score for lexical hits (higher is
// better), importance divided by hop count for graph hits (higher is better).
type Scored struct {
	Memory Memory
	Value  float64
}

// Store is the typed-query contract every retrieval arm is built on
// (spec.md §4.1). All operations fail with ErrStoreUnavailable on
// index/transport error, never panic, and never return soft-deleted
// records.
type Store interface {
	GetByType(ctx context.Context, kind Kind, limit int, sort SortMode) ([]Memory, error)
	GetHighImportance(ctx context.Context, threshold float64, limit int) ([]Memory, error)
	GetRecentSince(ctx context.Context, since time.Duration, limit int, channelScope string) ([]Memory, error)
	GetEmbedding(ctx context.Context, id string) (*Embedding, error)
	VectorSearch(ctx context.Context, query []float32, k int) ([]Scored, error)
	FTSSearch(ctx context.Context, text string, k int) ([]Scored, error)
	Neighbors(ctx context.Context, seedIDs []string, maxDepth int, edgeFilter []EdgeTag) ([]Scored, error)

	// Put persists a memory (and its embedding, if present) — the
	// write side of the save interface (spec.md §6), used by tests and
	// external collaborators only; the engine never calls it.
	Put(ctx context.Context, m Memory, emb []float32) error
	Link(ctx context.Context, a Association) error
}
