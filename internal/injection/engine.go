package injection

import (
	"context"
	"sync"
	"time"

	"github.com/slvnlrt/memengine/internal/bus"
	"github.com/slvnlrt/memengine/internal/config"
	"github.com/slvnlrt/memengine/internal/memory"
	"github.com/slvnlrt/memengine/internal/transcript"
)

// Engine is the pre-turn hook: given a channel's inbound message, it
// retrieves, deduplicates, budgets, and formats an InjectionBlock, then
// updates the channel's state so the next turn's dedup filter sees it.
// One Engine instance is shared across every channel; per-channel state
// lives in a registry keyed by channel id.
type Engine struct {
	store    memory.Store
	embedder memory.Embedder
	snapshot *config.Snapshot

	mu     sync.Mutex
	states map[string]*ChannelInjectionState
}

// New wires the engine's shared, thread-safe collaborators: the store, the
// embedding kernel, and the atomically-swappable config snapshot.
func New(store memory.Store, embedder memory.Embedder, snapshot *config.Snapshot) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		snapshot: snapshot,
		states:   make(map[string]*ChannelInjectionState),
	}
}

// StateFor returns the channel's injection state, creating it on first use.
// Callers must only invoke this from the channel's own serialized turn
// loop — the returned state carries no internal locking.
func (e *Engine) StateFor(channelID string) *ChannelInjectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[channelID]
	if !ok {
		s = NewChannelInjectionState()
		e.states[channelID] = s
	}
	return s
}

// DropChannel discards a channel's state, called when the channel itself
// is destroyed.
func (e *Engine) DropChannel(channelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, channelID)
}

// PrepareTurn runs the full pre-turn sequence for one channel and returns
// the InjectionBlock text to splice into the transcript, or ok=false if no
// block should be inserted this turn.
func (e *Engine) PrepareTurn(ctx context.Context, agentID, channelID string, msg bus.InboundMessage) (blockText string, ok bool) {
	start := time.Now()
	state := e.StateFor(channelID)

	// current_turn advances once per completed turn regardless of whether a
	// block is ultimately emitted — a system re-trigger, a disabled channel,
	// an empty pool, and an all-deduped batch are all completed turns.
	turn := state.AdvanceTurn()

	cfg, warnings, err := e.snapshot.Load().Resolve(agentID)
	for _, w := range warnings {
		traceSkip(w)
	}
	if err != nil {
		// Reloads are validated before they replace the live snapshot, but
		// the config loaded at startup is not, so ConfigInvalid can reach
		// here; a defensive skip keeps a turn from ever failing on this path.
		traceSkip("config resolution failed: " + err.Error())
		return "", false
	}
	if !cfg.Enabled {
		traceSkip("disabled")
		return "", false
	}

	pools, err := Plan(ctx, e.store, e.embedder, msg, cfg)
	if err != nil {
		traceSkip("planner error: " + err.Error())
		return "", false
	}
	if len(pools.Pinned) == 0 && len(pools.Contextual) == 0 {
		if msg.Source == bus.SourceSystem {
			traceSkip("system re-trigger")
		} else {
			traceSkip("empty pools")
		}
		return "", false
	}

	filteredPinned, filteredContextual := Filter(ctx, e.store, e.embedder, state, cfg, pools)
	dedupedCount := (len(pools.Pinned) + len(pools.Contextual)) - (len(filteredPinned) + len(filteredContextual))

	admittedPinned, admittedContextual := EnforceBudget(filteredPinned, filteredContextual, cfg.MaxTotal)

	text, ok := FormatBlock(admittedPinned, admittedContextual)
	if !ok {
		traceSkip("all-deduped")
		return "", false
	}

	for _, s := range admittedPinned {
		traceAdmitted(s.Memory, sourcePinned, s.Value)
		admit(state, e.store, e.embedder, ctx, s.Memory, turn, cfg)
	}
	for _, s := range admittedContextual {
		traceAdmitted(s.Memory, sourceContextual, s.Value)
		admit(state, e.store, e.embedder, ctx, s.Memory, turn, cfg)
	}
	state.PruneInjectedIDs(cfg.ContextWindowDepth)

	traceTurn(len(admittedPinned), len(admittedContextual), dedupedCount, len(admittedPinned)+len(admittedContextual), time.Since(start))
	return text, true
}

// admit performs the post-formatting state update for one included
// memory: injected_ids[id] = current_turn, and pushes its embedding to the
// semantic buffer (best-effort — a missing embedding just skips the push).
func admit(state *ChannelInjectionState, store memory.Store, embedder memory.Embedder, ctx context.Context, m memory.Memory, turn int, cfg config.ResolvedConfig) {
	state.RecordInjection(m.ID, turn)
	vec, err := resolveEmbedding(ctx, store, embedder, m)
	if err != nil || vec == nil {
		return
	}
	state.PushSemantic(vec, turn, semanticBufferCap(cfg))
}

// semanticBufferCap bounds the semantic buffer by a small multiple of
// max_total, since it only needs to cover the memories a single context
// window's worth of turns could have introduced.
func semanticBufferCap(cfg config.ResolvedConfig) int {
	bufCap := cfg.MaxTotal * cfg.ContextWindowDepth
	if bufCap <= 0 {
		bufCap = 200
	}
	return bufCap
}

// Insert splices blockText into t as a user-role message, first purging
// old injection blocks per the persistence governor's retention knob. With
// the knob at 0, the block is still inserted so the model sees it this
// turn, but the next turn's purge (keep=0) removes it before anything new
// lands — the "ephemeral" behavior falls out of that ordering rather than
// a special case here.
func Insert(t *transcript.Transcript, blockText string, maxInjectedBlocksInHistory int) {
	keep := maxInjectedBlocksInHistory - 1
	if keep < 0 {
		keep = 0
	}
	PurgeOldBlocks(t, keep)
	t.Append(transcript.Message{Role: transcript.RoleUser, Content: blockText})
}
