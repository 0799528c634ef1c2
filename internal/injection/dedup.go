package injection

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/slvnlrt/memengine/internal/config"
	"github.com/slvnlrt/memengine/internal/memory"
)

// embeddingConcurrency bounds simultaneous cache-miss embedding calls
// during the semantic filter stage.
const embeddingConcurrency = 4

// Filter applies the three-stage deduplication pipeline to the planner's
// pools in order — pinned first, then contextual — returning the subset of
// each pool that survives all three stages, ready for budget enforcement.
// seen (batch-local IDs) and admittedThisTurn (batch-local embeddings) are
// shared across both calls so a memory admitted via the pinned pool cannot
// also be admitted via the contextual pool, whether by ID or by semantic
// similarity.
func Filter(ctx context.Context, store memory.Store, embedder memory.Embedder, state *ChannelInjectionState, cfg config.ResolvedConfig, pools Pools) (filteredPinned, filteredContextual []memory.Scored) {
	state.PruneSemanticByAge(cfg.ContextWindowDepth)

	seen := make(map[string]bool)
	var admittedThisTurn [][]float32
	filteredPinned = admitOrdered(ctx, store, embedder, state, cfg, pools.Pinned, seen, &admittedThisTurn)
	filteredContextual = admitOrdered(ctx, store, embedder, state, cfg, pools.Contextual, seen, &admittedThisTurn)
	return filteredPinned, filteredContextual
}

// admitOrdered runs the three-stage filter over one pool, preserving input
// order in the output (pinned: per-kind arrival order; contextual:
// fused-score order). Embedding lookups for the semantic stage run with
// bounded concurrency, but admission itself is decided sequentially in
// input order: a candidate is checked not only against the persisted
// semantic buffer but against every embedding already admitted earlier in
// this same Filter pass (admittedThisTurn), so two near-duplicate
// candidates surfaced in the same turn are never both admitted.
func admitOrdered(ctx context.Context, store memory.Store, embedder memory.Embedder, state *ChannelInjectionState, cfg config.ResolvedConfig, cands []memory.Scored, seen map[string]bool, admittedThisTurn *[][]float32) []memory.Scored {
	if len(cands) == 0 {
		return nil
	}

	survivorsIdx := make([]int, 0, len(cands))
	for i, c := range cands {
		if turn, ok := state.LastInjectedTurn(c.Memory.ID); ok && turn >= state.CurrentTurn()-cfg.ContextWindowDepth {
			continue // context-window ID filter
		}
		if seen[c.Memory.ID] {
			continue // batch-local ID filter
		}
		seen[c.Memory.ID] = true
		survivorsIdx = append(survivorsIdx, i)
	}

	vecs := make([][]float32, len(cands))
	sem := semaphore.NewWeighted(embeddingConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, i := range survivorsIdx {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			vec, err := resolveEmbedding(ctx, store, embedder, cands[i].Memory)
			if err != nil {
				slog.Warn("dedup filter: embedding unavailable, skipping semantic filter", "id", cands[i].Memory.ID, "error", err)
				return
			}
			mu.Lock()
			vecs[i] = vec
			mu.Unlock()
		}()
	}
	wg.Wait()

	out := make([]memory.Scored, 0, len(survivorsIdx))
	for _, i := range survivorsIdx {
		vec := vecs[i]
		if vec == nil {
			// Embedding unavailable or this candidate has none on record —
			// the ID filters already applied are the only guard.
			out = append(out, cands[i])
			continue
		}

		maxSim := state.MaxSimilarity(vec, memory.CosineSimilarity)
		for _, admitted := range *admittedThisTurn {
			if sim := memory.CosineSimilarity(vec, admitted); sim > maxSim {
				maxSim = sim
			}
		}
		if maxSim > cfg.SemanticThreshold {
			continue // semantic cosine filter
		}

		*admittedThisTurn = append(*admittedThisTurn, vec)
		out = append(out, cands[i])
	}
	return out
}

func resolveEmbedding(ctx context.Context, store memory.Store, embedder memory.Embedder, m memory.Memory) ([]float32, error) {
	emb, err := store.GetEmbedding(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if emb != nil {
		return emb.Vector, nil
	}
	if embedder == nil {
		return nil, nil
	}
	return embedder.EmbedOne(ctx, m.Content)
}
