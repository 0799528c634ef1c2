package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slvnlrt/memengine/internal/bus"
	"github.com/slvnlrt/memengine/internal/config"
	"github.com/slvnlrt/memengine/internal/memory"
	"github.com/slvnlrt/memengine/internal/transcript"
)

type stubEmbedder struct{}

func (stubEmbedder) Dims() int { return 3 }
func (stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubModelClient struct {
	reply string
	err   error
	calls [][]transcript.Message
}

func (s *stubModelClient) Complete(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newFullStubStore() memory.Store { return fullStubStore{} }

type fullStubStore struct{}

func (fullStubStore) GetByType(ctx context.Context, kind memory.Kind, limit int, sort memory.SortMode) ([]memory.Memory, error) {
	return nil, nil
}
func (fullStubStore) GetHighImportance(ctx context.Context, threshold float64, limit int) ([]memory.Memory, error) {
	return nil, nil
}
func (fullStubStore) GetRecentSince(ctx context.Context, since time.Duration, limit int, channelScope string) ([]memory.Memory, error) {
	return nil, nil
}
func (fullStubStore) GetEmbedding(ctx context.Context, id string) (*memory.Embedding, error) {
	return nil, nil
}
func (fullStubStore) VectorSearch(ctx context.Context, query []float32, k int) ([]memory.Scored, error) {
	return nil, nil
}
func (fullStubStore) FTSSearch(ctx context.Context, text string, k int) ([]memory.Scored, error) {
	return nil, nil
}
func (fullStubStore) Neighbors(ctx context.Context, seedIDs []string, maxDepth int, edgeFilter []memory.EdgeTag) ([]memory.Scored, error) {
	return nil, nil
}
func (fullStubStore) Put(ctx context.Context, m memory.Memory, emb []float32) error { return nil }
func (fullStubStore) Link(ctx context.Context, a memory.Association) error         { return nil }

func TestLoop_Run_AppendsUserAndAssistantMessages(t *testing.T) {
	client := &stubModelClient{reply: "hello back"}
	loop := NewLoop("agent-1", "test-model", newFullStubStore(), stubEmbedder{}, config.NewSnapshot(&config.Config{}), client, nil, 8000)

	res, err := loop.Run(context.Background(), RunRequest{
		ChannelID: "chan-1",
		Message:   bus.InboundMessage{Content: "hi there", Source: bus.SourceUser},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reply != "hello back" {
		t.Fatalf("expected reply from model client, got %q", res.Reply)
	}

	msgs := res.Transcript.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "hi there" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != transcript.RoleAssistant || msgs[1].Content != "hello back" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
}

func TestLoop_Run_PropagatesModelError(t *testing.T) {
	client := &stubModelClient{err: errors.New("boom")}
	loop := NewLoop("agent-1", "test-model", newFullStubStore(), stubEmbedder{}, config.NewSnapshot(&config.Config{}), client, nil, 8000)

	_, err := loop.Run(context.Background(), RunRequest{
		ChannelID: "chan-1",
		Message:   bus.InboundMessage{Content: "hi", Source: bus.SourceUser},
	})
	if err == nil {
		t.Fatal("expected error to propagate from model client")
	}
}

func TestLoop_BranchChannel_InheritsHistory(t *testing.T) {
	client := &stubModelClient{reply: "ack"}
	loop := NewLoop("agent-1", "test-model", newFullStubStore(), stubEmbedder{}, config.NewSnapshot(&config.Config{}), client, nil, 8000)

	_, err := loop.Run(context.Background(), RunRequest{
		ChannelID: "source-chan",
		Message:   bus.InboundMessage{Content: "hi", Source: bus.SourceUser},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loop.BranchChannel("source-chan", "dest-chan")

	destMsgs := loop.transcriptFor("dest-chan").Messages()
	if len(destMsgs) != 2 {
		t.Fatalf("expected branched channel to inherit 2 messages, got %d", len(destMsgs))
	}

	// Mutating the source afterwards must not affect the branched copy.
	loop.transcriptFor("source-chan").Append(transcript.Message{Role: transcript.RoleUser, Content: "more"})
	if len(loop.transcriptFor("dest-chan").Messages()) != 2 {
		t.Fatal("expected branched transcript to be independent of the source")
	}
}

func TestLoop_DropChannel_ClearsState(t *testing.T) {
	client := &stubModelClient{reply: "ack"}
	loop := NewLoop("agent-1", "test-model", newFullStubStore(), stubEmbedder{}, config.NewSnapshot(&config.Config{}), client, nil, 8000)

	_, err := loop.Run(context.Background(), RunRequest{
		ChannelID: "chan-1",
		Message:   bus.InboundMessage{Content: "hi", Source: bus.SourceUser},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loop.DropChannel("chan-1")

	if len(loop.transcriptFor("chan-1").Messages()) != 0 {
		t.Fatal("expected a fresh empty transcript after DropChannel")
	}
}
