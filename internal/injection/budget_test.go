package injection

import (
	"strings"
	"testing"

	"github.com/slvnlrt/memengine/internal/memory"
)

func TestEnforceBudget_PinnedGuaranteedFirst(t *testing.T) {
	pinned := []memory.Scored{
		{Memory: testMemory("p1", memory.KindGoal), Value: 1},
		{Memory: testMemory("p2", memory.KindGoal), Value: 1},
	}
	contextual := []memory.Scored{
		{Memory: testMemory("c1", memory.KindFact), Value: 0.9},
		{Memory: testMemory("c2", memory.KindFact), Value: 0.8},
		{Memory: testMemory("c3", memory.KindFact), Value: 0.7},
	}

	admittedPinned, admittedContextual := EnforceBudget(pinned, contextual, 4)
	if len(admittedPinned) != 2 {
		t.Fatalf("expected both pinned slots guaranteed, got %d", len(admittedPinned))
	}
	if len(admittedContextual) != 2 {
		t.Fatalf("expected remaining 2 slots filled by contextual, got %d", len(admittedContextual))
	}
}

func TestEnforceBudget_PinnedExceedsMaxTotal(t *testing.T) {
	pinned := make([]memory.Scored, 10)
	for i := range pinned {
		pinned[i] = memory.Scored{Memory: testMemory(string(rune('a'+i)), memory.KindGoal), Value: 1}
	}
	admittedPinned, admittedContextual := EnforceBudget(pinned, nil, 3)
	if len(admittedPinned) != 3 {
		t.Fatalf("expected pinned truncated to max_total, got %d", len(admittedPinned))
	}
	if len(admittedContextual) != 0 {
		t.Fatalf("expected no room for contextual, got %d", len(admittedContextual))
	}
}

func TestEnforceBudget_ZeroMaxTotal(t *testing.T) {
	pinned := []memory.Scored{{Memory: testMemory("p1", memory.KindGoal), Value: 1}}
	admittedPinned, admittedContextual := EnforceBudget(pinned, nil, 0)
	if admittedPinned != nil || admittedContextual != nil {
		t.Fatalf("expected nil admissions at zero budget, got %+v / %+v", admittedPinned, admittedContextual)
	}
}

func TestFormatBlock_EmptyReturnsNotOK(t *testing.T) {
	_, ok := FormatBlock(nil, nil)
	if ok {
		t.Fatal("expected FormatBlock to report ok=false for two empty subsets")
	}
}

func TestFormatBlock_IncludesHeadersAndPrefix(t *testing.T) {
	pinned := []memory.Scored{{Memory: testMemory("p1", memory.KindGoal), Value: 1}}
	contextual := []memory.Scored{{Memory: testMemory("c1", memory.KindFact), Value: 0.5}}

	text, ok := FormatBlock(pinned, contextual)
	if !ok {
		t.Fatal("expected ok=true for a non-empty subset")
	}
	if !strings.HasPrefix(text, Prefix) {
		t.Fatalf("expected text to start with the stable prefix, got %q", text)
	}
	if !strings.Contains(text, pinnedHeader) {
		t.Fatal("expected pinned header present")
	}
	if !strings.Contains(text, contextualHeader) {
		t.Fatal("expected contextual header present")
	}
	if !strings.Contains(text, "content-p1") || !strings.Contains(text, "content-c1") {
		t.Fatalf("expected memory contents rendered, got %q", text)
	}
}

func TestFormatBlock_OmitsAbsentSection(t *testing.T) {
	pinned := []memory.Scored{{Memory: testMemory("p1", memory.KindGoal), Value: 1}}
	text, ok := FormatBlock(pinned, nil)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if strings.Contains(text, contextualHeader) {
		t.Fatalf("expected contextual header omitted when no contextual memories, got %q", text)
	}
}

func TestIsInjectionBlock(t *testing.T) {
	if !IsInjectionBlock(Prefix + "\nsomething") {
		t.Fatal("expected prefixed content to be recognized as an injection block")
	}
	if IsInjectionBlock("just a regular message") {
		t.Fatal("expected non-prefixed content to not be recognized")
	}
}
