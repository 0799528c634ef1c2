package injection

import (
	"context"
	"time"

	"github.com/slvnlrt/memengine/internal/memory"
)

// fakeStore is a minimal in-memory memory.Store for exercising the planner,
// dedup filter, and engine independent of any real backend.
type fakeStore struct {
	byType     map[memory.Kind][]memory.Memory
	byTypeErr  error
	embeddings map[string][]float32
	embErr     error
	ftsResults []memory.Scored
	vectorErr  error
}

func (f *fakeStore) GetByType(ctx context.Context, kind memory.Kind, limit int, sort memory.SortMode) ([]memory.Memory, error) {
	if f.byTypeErr != nil {
		return nil, f.byTypeErr
	}
	mems := f.byType[kind]
	if limit > 0 && len(mems) > limit {
		mems = mems[:limit]
	}
	return mems, nil
}

func (f *fakeStore) GetHighImportance(ctx context.Context, threshold float64, limit int) ([]memory.Memory, error) {
	return nil, nil
}

func (f *fakeStore) GetRecentSince(ctx context.Context, since time.Duration, limit int, channelScope string) ([]memory.Memory, error) {
	return nil, nil
}

func (f *fakeStore) GetEmbedding(ctx context.Context, id string) (*memory.Embedding, error) {
	if f.embErr != nil {
		return nil, f.embErr
	}
	if vec, ok := f.embeddings[id]; ok {
		return &memory.Embedding{MemoryID: id, Vector: vec}, nil
	}
	return nil, nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, query []float32, k int) ([]memory.Scored, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return nil, nil
}

func (f *fakeStore) FTSSearch(ctx context.Context, text string, k int) ([]memory.Scored, error) {
	return f.ftsResults, nil
}

func (f *fakeStore) Neighbors(ctx context.Context, seedIDs []string, maxDepth int, edgeFilter []memory.EdgeTag) ([]memory.Scored, error) {
	return nil, nil
}

func (f *fakeStore) Put(ctx context.Context, m memory.Memory, emb []float32) error { return nil }
func (f *fakeStore) Link(ctx context.Context, a memory.Association) error          { return nil }

// fakeEmbedder returns a fixed vector for every call, or an error if set.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Dims() int { return memory.EmbeddingDims }

func (e *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func testMemory(id string, kind memory.Kind) memory.Memory {
	return memory.Memory{
		ID:         id,
		Content:    "content-" + id,
		Kind:       kind,
		Importance: 0.5,
		CreatedAt:  time.Now().UTC(),
	}
}
