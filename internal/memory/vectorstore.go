package memory

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// VectorIndex is the subset of Store concerned purely with vector storage:
// get_embedding and vector_search (spec.md §4.1), kept as its own
// interface so a Store implementation can delegate to an external index
// instead of doing in-memory cosine scans.
type VectorIndex interface {
	Upsert(ctx context.Context, memoryID string, vec []float32, content string) error
	Get(ctx context.Context, memoryID string) (*Embedding, error)
	Search(ctx context.Context, query []float32, k int) ([]Scored, error)
}

// ChromemIndex is a VectorIndex backed by chromem-go, a pure-Go embedded
// vector database. We supply embeddings ourselves (no built-in embedding
// func), since the engine's Embedder kernel owns that concern.
type ChromemIndex struct {
	col *chromem.Collection

	mu      sync.RWMutex
	byID    map[string]Memory     // cache so Get/Search can reconstruct Memory rows
	vectors map[string][]float32 // chromem-go exposes no get-by-id, so we keep our own copy
}

// NewChromemIndex creates an in-process vector index with a single
// collection (memory scope is carried on each Memory's ChannelScope field
// rather than via separate collections, since the corpus here is one
// engine's worth of long-term memories, not per-tenant documents).
func NewChromemIndex() (*ChromemIndex, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", ErrStoreUnavailable, err)
	}
	return &ChromemIndex{col: col, byID: make(map[string]Memory), vectors: make(map[string][]float32)}, nil
}

// Upsert stores the embedding for a memory, along with enough metadata to
// reconstruct a Memory row from query results.
func (c *ChromemIndex) Upsert(ctx context.Context, memoryID string, vec []float32, content string) error {
	doc := chromem.Document{
		ID:        memoryID,
		Content:   content,
		Embedding: vec,
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: chromem add: %v", ErrStoreUnavailable, err)
	}

	c.mu.Lock()
	c.vectors[memoryID] = vec
	c.mu.Unlock()
	return nil
}

// RegisterMemory caches the Memory row keyed by id, so Search can return
// full Memory values rather than bare content. The Store adapters only call
// Upsert, so whoever attaches the index registers each memory; Search skips
// any hit that was never registered.
func (c *ChromemIndex) RegisterMemory(m Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[m.ID] = m
}

func (c *ChromemIndex) Get(ctx context.Context, memoryID string) (*Embedding, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.vectors[memoryID]
	if !ok {
		return nil, nil
	}
	return &Embedding{MemoryID: memoryID, Vector: vec}, nil
}

// Search returns the k nearest memories by cosine distance (lower is
// closer), matching in-order. chromem-go errors when nResults exceeds the
// collection size, so we clamp down rather than fail the whole arm.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]Scored, error) {
	if k <= 0 {
		k = 10
	}
	count := c.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := c.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query: %v", ErrStoreUnavailable, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Scored, 0, len(results))
	for _, r := range results {
		m, ok := c.byID[r.ID]
		if !ok {
			continue
		}
		if m.Deleted {
			continue
		}
		// chromem reports cosine similarity; convert to distance so
		// VectorSearch's "lower is closer" contract holds everywhere.
		out = append(out, Scored{Memory: m, Value: 1 - float64(r.Similarity)})
	}
	return out, nil
}
