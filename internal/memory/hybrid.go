package memory

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// rrfK is the reciprocal-rank-fusion damping constant (spec.md §4.2).
// Larger k flattens the weight given to top ranks; 60 is the standard
// value for RRF as used in IR literature.
const rrfK = 60

// arm identifies one of the four independent retrieval arms contributing
// to the fused score.
type arm int

const (
	armVector arm = iota
	armLexical
	armGraphSeed
	armGraphTraversal
	armCount
)

// graphEdgePriority lists the edge tags graph traversal follows, strongest
// evidence first. Neighbors uses it only as an allow-list: the order does
// not affect traversal, and a graph hit's score is importance divided by
// hop count, with no per-edge weight.
var graphEdgePriority = []EdgeTag{EdgeUpdates, EdgeCausedBy, EdgeContradicts, EdgeRelatedTo}

// HybridSearch fuses vector, lexical, graph-seed, and graph-traversal
// retrieval arms via reciprocal rank fusion. It never fails outright: a
// failing arm contributes zero results and a trace warning, and an empty
// query skips vector+lexical, returning the graph arms only.
func HybridSearch(ctx context.Context, store Store, embedder Embedder, query string, cfg SearchConfig) ([]Scored, error) {
	if cfg.PerSourceCap <= 0 {
		cfg.PerSourceCap = 20
	}
	if cfg.TotalCap <= 0 {
		cfg.TotalCap = 25
	}
	if cfg.GraphMaxDepth <= 0 || cfg.GraphMaxDepth > 2 {
		cfg.GraphMaxDepth = 2
	}

	var queryVec []float32
	if query != "" && embedder != nil {
		v, err := embedder.EmbedOne(ctx, query)
		if err != nil {
			slog.Warn("hybrid search: embedding unavailable, degrading to fts+graph", "error", err)
		} else {
			queryVec = v
		}
	}

	results := make([][]Scored, armCount)

	g, gctx := errgroup.WithContext(ctx)

	if query != "" && queryVec != nil {
		g.Go(func() error {
			r, err := store.VectorSearch(gctx, queryVec, cfg.PerSourceCap)
			if err != nil {
				slog.Warn("hybrid search: vector arm failed", "error", err)
				return nil
			}
			results[armVector] = r
			return nil
		})
	}

	if query != "" {
		g.Go(func() error {
			r, err := store.FTSSearch(gctx, query, cfg.PerSourceCap)
			if err != nil {
				slog.Warn("hybrid search: lexical arm failed", "error", err)
				return nil
			}
			results[armLexical] = r
			return nil
		})
	}

	g.Go(func() error {
		seeds, err := store.GetHighImportance(gctx, cfg.GraphSeedThreshold, cfg.GraphSeedLimit)
		if err != nil {
			slog.Warn("hybrid search: graph seed arm failed", "error", err)
			return nil
		}
		seedScored := make([]Scored, len(seeds))
		for i, m := range seeds {
			seedScored[i] = Scored{Memory: m, Value: m.Importance}
		}
		results[armGraphSeed] = seedScored

		if len(seeds) == 0 {
			return nil
		}
		seedIDs := make([]string, len(seeds))
		for i, m := range seeds {
			seedIDs[i] = m.ID
		}
		traversal, err := store.Neighbors(gctx, seedIDs, cfg.GraphMaxDepth, graphEdgePriority)
		if err != nil {
			slog.Warn("hybrid search: graph traversal arm failed", "error", err)
			return nil
		}
		results[armGraphTraversal] = traversal
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("hybrid search: arm group returned error", "error", err)
	}

	fused := fuseRRF(results)

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Value != fused[j].Value {
			return fused[i].Value > fused[j].Value
		}
		return fused[i].Memory.ID < fused[j].Memory.ID
	})

	if len(cfg.KindFilter) > 0 {
		fused = filterByKind(fused, cfg.KindFilter)
	}

	if len(fused) > cfg.TotalCap {
		fused = fused[:cfg.TotalCap]
	}
	return fused, nil
}

// fuseRRF ranks each arm independently (already sorted best-first by the
// store adapters) and sums 1/(k+rank) contributions per memory.
func fuseRRF(perArm [][]Scored) []Scored {
	type acc struct {
		mem   Memory
		score float64
	}
	byID := make(map[string]*acc)

	for _, arm := range perArm {
		for rank, s := range arm {
			a, ok := byID[s.Memory.ID]
			if !ok {
				a = &acc{mem: s.Memory}
				byID[s.Memory.ID] = a
			}
			a.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	out := make([]Scored, 0, len(byID))
	for _, a := range byID {
		out = append(out, Scored{Memory: a.mem, Value: a.score})
	}
	return out
}

// EnrichmentWeights configures the optional score-enrichment hook
// (spec.md §4.2 step 5), off by default so relevance dominates.
type EnrichmentWeights struct {
	Importance float64 // alpha
	Recency    float64 // beta
	HalfLife   float64 // recency decay half-life, in hours
}

// Enrich applies final = rrf + alpha*importance + beta*recency_decay(age)
// in place. Callers opt in explicitly; HybridSearch does not call this.
func Enrich(results []Scored, w EnrichmentWeights, now int64) {
	if w.Importance == 0 && w.Recency == 0 {
		return
	}
	halfLife := w.HalfLife
	if halfLife <= 0 {
		halfLife = 168 // one week, in hours
	}
	for i := range results {
		m := results[i].Memory
		ageHours := float64(now-m.CreatedAt.Unix()) / 3600
		decay := recencyDecay(ageHours, halfLife)
		results[i].Value += w.Importance*m.Importance + w.Recency*decay
	}
}

func recencyDecay(ageHours, halfLifeHours float64) float64 {
	if ageHours <= 0 {
		return 1
	}
	// halves every halfLifeHours
	lambda := math.Ln2 / halfLifeHours
	return math.Exp(-lambda * ageHours)
}

func filterByKind(results []Scored, kinds []Kind) []Scored {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	out := results[:0]
	for _, r := range results {
		if allowed[r.Memory.Kind] {
			out = append(out, r)
		}
	}
	return out
}
