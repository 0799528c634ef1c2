package injection

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/slvnlrt/memengine/internal/bus"
	"github.com/slvnlrt/memengine/internal/config"
	"github.com/slvnlrt/memengine/internal/memory"
)

// Pools is the Retrieval Planner's output: two candidate lists with no
// internal duplicates, ready for the dedup filter.
type Pools struct {
	Pinned     []memory.Scored
	Contextual []memory.Scored
}

// Plan runs the pinned and contextual retrieval arms concurrently and
// returns their candidate pools. It returns empty pools, no error, when
// msg is not user-originated (a system re-trigger) — the user's context
// has not changed, so there is nothing new to retrieve for.
func Plan(ctx context.Context, store memory.Store, embedder memory.Embedder, msg bus.InboundMessage, cfg config.ResolvedConfig) (Pools, error) {
	if msg.Source == bus.SourceSystem {
		return Pools{}, nil
	}
	if !cfg.Enabled {
		return Pools{}, nil
	}

	var pools Pools
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pools.Pinned = pinnedArm(gctx, store, cfg)
		return nil
	})

	g.Go(func() error {
		pools.Contextual = contextualArm(gctx, store, embedder, msg.Content, cfg)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Warn("retrieval planner: arm group error", "error", err)
	}
	return pools, nil
}

// pinnedArm fires get_by_type concurrently for every configured pinned
// kind and concatenates the results, dropping unrecognized kind names.
func pinnedArm(ctx context.Context, store memory.Store, cfg config.ResolvedConfig) []memory.Scored {
	if !cfg.AmbientEnabled || len(cfg.PinnedKinds) == 0 {
		return nil
	}

	type kindResult struct {
		kind memory.Kind
		mems []memory.Memory
		err  error
	}
	results := make([]kindResult, len(cfg.PinnedKinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range cfg.PinnedKinds {
		i, kind := i, kind
		if !memory.ValidKind(kind) {
			slog.Warn("retrieval planner: dropping unknown pinned kind", "kind", kind)
			continue
		}
		g.Go(func() error {
			mems, err := store.GetByType(gctx, kind, cfg.PinnedLimit, cfg.PinnedSort)
			results[i] = kindResult{kind: kind, mems: mems, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("retrieval planner: pinned arm group error", "error", err)
	}

	var out []memory.Scored
	for _, r := range results {
		if r.err != nil {
			slog.Warn("retrieval planner: pinned fetch failed", "kind", r.kind, "error", r.err)
			continue
		}
		for _, m := range r.mems {
			out = append(out, memory.Scored{Memory: m, Value: m.Importance})
		}
	}
	return out
}

// contextualArm runs hybrid search and applies the configured floor on
// fused score.
func contextualArm(ctx context.Context, store memory.Store, embedder memory.Embedder, text string, cfg config.ResolvedConfig) []memory.Scored {
	searchCfg := memory.DefaultSearchConfig()
	searchCfg.PerSourceCap = cfg.SearchLimit
	searchCfg.TotalCap = cfg.MaxTotal
	results, err := memory.HybridSearch(ctx, store, embedder, text, searchCfg)
	if err != nil {
		slog.Warn("retrieval planner: contextual arm failed", "error", err)
		return nil
	}

	out := results[:0]
	for _, r := range results {
		if r.Value >= cfg.ContextualMinScore {
			out = append(out, r)
		}
	}
	return out
}
