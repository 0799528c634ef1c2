package injection

import (
	"testing"

	"github.com/slvnlrt/memengine/internal/memory"
)

func TestChannelInjectionState_RecordAndLookup(t *testing.T) {
	s := NewChannelInjectionState()
	turn := s.AdvanceTurn()
	s.RecordInjection("m1", turn)

	got, ok := s.LastInjectedTurn("m1")
	if !ok || got != turn {
		t.Fatalf("expected turn %d, got %d (ok=%v)", turn, got, ok)
	}
	if _, ok := s.LastInjectedTurn("missing"); ok {
		t.Fatal("expected missing id to report not-found")
	}
}

func TestChannelInjectionState_AdvanceTurnIncrements(t *testing.T) {
	s := NewChannelInjectionState()
	if s.CurrentTurn() != 0 {
		t.Fatalf("expected initial turn 0, got %d", s.CurrentTurn())
	}
	if got := s.AdvanceTurn(); got != 1 {
		t.Fatalf("expected turn 1, got %d", got)
	}
	if got := s.AdvanceTurn(); got != 2 {
		t.Fatalf("expected turn 2, got %d", got)
	}
}

func TestChannelInjectionState_PushSemanticPrunesToCap(t *testing.T) {
	s := NewChannelInjectionState()
	for i := 0; i < 5; i++ {
		s.PushSemantic([]float32{float32(i)}, i, 3)
	}
	if len(s.semanticBuffer) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(s.semanticBuffer))
	}
	// oldest entries (turn 0, 1) should have been dropped
	if s.semanticBuffer[0].turn != 2 {
		t.Fatalf("expected oldest retained entry to be turn 2, got %d", s.semanticBuffer[0].turn)
	}
}

func TestChannelInjectionState_PruneSemanticByAge(t *testing.T) {
	s := NewChannelInjectionState()
	s.PushSemantic([]float32{1}, 1, 0)
	s.PushSemantic([]float32{2}, 5, 0)
	for i := 0; i < 10; i++ {
		s.AdvanceTurn()
	}
	s.PruneSemanticByAge(3) // cutoff = 10-3 = 7

	if len(s.semanticBuffer) != 0 {
		t.Fatalf("expected all entries older than cutoff pruned, got %d remaining", len(s.semanticBuffer))
	}
}

func TestChannelInjectionState_MaxSimilarity(t *testing.T) {
	s := NewChannelInjectionState()
	s.PushSemantic([]float32{1, 0, 0}, 1, 0)
	s.PushSemantic([]float32{0, 1, 0}, 2, 0)

	sim := s.MaxSimilarity([]float32{1, 0, 0}, memory.CosineSimilarity)
	if sim < 0.99 {
		t.Fatalf("expected near-identical match to score ~1, got %v", sim)
	}

	empty := NewChannelInjectionState()
	if got := empty.MaxSimilarity([]float32{1, 0, 0}, memory.CosineSimilarity); got != 0 {
		t.Fatalf("expected empty buffer to report similarity 0, got %v", got)
	}
}

func TestChannelInjectionState_PruneInjectedIDs(t *testing.T) {
	s := NewChannelInjectionState()
	s.RecordInjection("old", 1)
	for i := 0; i < 10; i++ {
		s.AdvanceTurn()
	}
	s.RecordInjection("new", s.CurrentTurn())
	s.PruneInjectedIDs(3) // cutoff = 10-3 = 7

	if _, ok := s.LastInjectedTurn("old"); ok {
		t.Fatal("expected old entry to be pruned")
	}
	if _, ok := s.LastInjectedTurn("new"); !ok {
		t.Fatal("expected recent entry to survive pruning")
	}
}
