package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/slvnlrt/memengine/internal/config"
	"github.com/slvnlrt/memengine/internal/injection"
	"github.com/slvnlrt/memengine/internal/memory"
	"github.com/slvnlrt/memengine/internal/transcript"
)

// ModelClient is the synchronous completion call a Loop drives each turn.
// A real implementation wraps a provider SDK; tests supply a stub.
type ModelClient interface {
	Complete(ctx context.Context, model string, messages []transcript.Message) (string, error)
}

// Loop is the per-agent execution loop: on each inbound message it runs
// the memory injection engine's pre-turn sequence, prunes the working
// transcript if configured, invokes the model, and appends the exchange
// to the channel's transcript.
type Loop struct {
	id    string
	model string

	store     memory.Store
	embedder  memory.Embedder
	snapshot  *config.Snapshot
	injEngine *injection.Engine
	client    ModelClient
	pruning   *PruningConfig

	contextWindowTokens int

	mu          sync.Mutex
	transcripts map[string]*transcript.Transcript

	running atomic.Bool
}

// NewLoop wires one agent's collaborators. pruning may be nil to disable
// context pruning entirely.
func NewLoop(id, model string, store memory.Store, embedder memory.Embedder, snapshot *config.Snapshot, client ModelClient, pruning *PruningConfig, contextWindowTokens int) *Loop {
	return &Loop{
		id:                  id,
		model:               model,
		store:               store,
		embedder:            embedder,
		snapshot:            snapshot,
		injEngine:           injection.New(store, embedder, snapshot),
		client:              client,
		pruning:             pruning,
		contextWindowTokens: contextWindowTokens,
		transcripts:         make(map[string]*transcript.Transcript),
	}
}

func (l *Loop) ID() string      { return l.id }
func (l *Loop) Model() string   { return l.model }
func (l *Loop) IsRunning() bool { return l.running.Load() }

// transcriptFor returns the channel's transcript, creating it on first use.
func (l *Loop) transcriptFor(channelID string) *transcript.Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transcripts[channelID]
	if !ok {
		t = transcript.New()
		l.transcripts[channelID] = t
	}
	return t
}

// Run executes one turn: memory injection, pruning, model call, transcript
// write-back. Channels are expected to serialize their own calls into Run —
// the injection engine's per-channel state relies on that ordering.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.running.Store(true)
	defer l.running.Store(false)

	t := l.transcriptFor(req.ChannelID)

	cfg := l.snapshot.Load()
	resolved, _, err := cfg.Resolve(l.id)
	maxHistory := 3
	if err == nil {
		maxHistory = resolved.MaxInjectedBlocksInHistory
	}

	if blockText, ok := l.injEngine.PrepareTurn(ctx, l.id, req.ChannelID, req.Message); ok {
		injection.Insert(t, blockText, maxHistory)
	}

	if req.Message.Content != "" {
		t.Append(transcript.Message{Role: transcript.RoleUser, Content: req.Message.Content})
	}

	messages := t.Messages()
	if l.pruning != nil {
		messages = pruneContextMessages(messages, l.contextWindowTokens, l.pruning)
	}

	reply, err := l.client.Complete(ctx, l.model, messages)
	if err != nil {
		slog.Error("agent loop: model completion failed", "agent", l.id, "channel", req.ChannelID, "error", err)
		return nil, fmt.Errorf("agent loop: complete: %w", err)
	}

	t.Append(transcript.Message{Role: transcript.RoleAssistant, Content: reply})

	return &RunResult{Reply: reply, Transcript: t}, nil
}

// BranchChannel forks a channel's transcript for the destination channel,
// inheriting any live injection blocks along with the rest of the history.
func (l *Loop) BranchChannel(sourceChannelID, destChannelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.transcripts[sourceChannelID]
	if !ok {
		return
	}
	l.transcripts[destChannelID] = src.Clone()
}

// DropChannel discards a channel's transcript and injection state.
func (l *Loop) DropChannel(channelID string) {
	l.mu.Lock()
	delete(l.transcripts, channelID)
	l.mu.Unlock()
	l.injEngine.DropChannel(channelID)
}
