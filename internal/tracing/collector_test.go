package tracing

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeTracingStore struct {
	mu            sync.Mutex
	traces        []*TraceData
	updates       []map[string]any
	spanBatches   [][]SpanData
	aggregateCall []uuid.UUID
}

func (f *fakeTracingStore) CreateTrace(ctx context.Context, trace *TraceData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, trace)
	return nil
}

func (f *fakeTracingStore) UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
	return nil
}

func (f *fakeTracingStore) BatchCreateSpans(ctx context.Context, spans []SpanData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spanBatches = append(f.spanBatches, spans)
	return nil
}

func (f *fakeTracingStore) BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregateCall = append(f.aggregateCall, traceID)
	return nil
}

func (f *fakeTracingStore) spanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.spanBatches {
		n += len(b)
	}
	return n
}

func TestCollector_CreateAndUpdateTrace(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	trace := &TraceData{ID: GenNewID(), AgentID: "agent-1", Status: "running"}
	if err := c.CreateTrace(context.Background(), trace); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.traces) != 1 {
		t.Fatalf("expected 1 trace created, got %d", len(store.traces))
	}

	if err := c.UpdateTrace(context.Background(), trace.ID, map[string]any{"status": "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(store.updates))
	}
}

func TestCollector_EmitSpan_FlushesOnManualFlush(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	traceID := GenNewID()
	c.EmitSpan(SpanData{TraceID: traceID, SpanType: "retrieval_arm", Name: "vector"})
	c.EmitSpan(SpanData{TraceID: traceID, SpanType: "dedup_filter", Name: "dedup"})

	c.flush()

	if store.spanCount() != 2 {
		t.Fatalf("expected 2 spans flushed, got %d", store.spanCount())
	}
	if len(store.aggregateCall) != 1 || store.aggregateCall[0] != traceID {
		t.Fatalf("expected one aggregate update for the dirty trace, got %+v", store.aggregateCall)
	}
}

func TestCollector_EmitSpan_AssignsIDAndTimestamp(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	c.EmitSpan(SpanData{TraceID: GenNewID(), SpanType: "llm_call", Name: "complete"})
	c.flush()

	if len(store.spanBatches) != 1 || len(store.spanBatches[0]) != 1 {
		t.Fatalf("expected exactly one flushed span, got %+v", store.spanBatches)
	}
	got := store.spanBatches[0][0]
	if got.ID == uuid.Nil {
		t.Fatal("expected EmitSpan to assign a non-nil ID")
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected EmitSpan to stamp CreatedAt")
	}
}

func TestCollector_EmitSpan_DropsWhenBufferFull(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	traceID := GenNewID()
	// Overflow the buffer without draining — the extra spans should be
	// dropped, not block the caller.
	for i := 0; i < defaultBufferSize+10; i++ {
		c.EmitSpan(SpanData{TraceID: traceID, SpanType: "tool_call", Name: "x"})
	}

	c.flush()
	if store.spanCount() > defaultBufferSize {
		t.Fatalf("expected at most %d spans to survive, got %d", defaultBufferSize, store.spanCount())
	}
}

func TestCollector_FinishTrace_UpdatesStatusAndPreview(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	traceID := GenNewID()
	c.FinishTrace(context.Background(), traceID, "ok", "", "final reply preview")

	if len(store.updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(store.updates))
	}
	u := store.updates[0]
	if u["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", u["status"])
	}
	if _, ok := u["output_preview"]; !ok {
		t.Fatal("expected output_preview to be set")
	}
	if _, ok := u["error"]; ok {
		t.Fatal("expected no error field when errMsg is empty")
	}
}

func TestCollector_FinishTrace_RecordsError(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	traceID := GenNewID()
	c.FinishTrace(context.Background(), traceID, "error", "boom", "")

	u := store.updates[0]
	if u["error"] != "boom" {
		t.Fatalf("expected error field to be set, got %v", u["error"])
	}
}

func TestCollector_StartStop_DrainsRemainingSpans(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)
	c.Start()

	c.EmitSpan(SpanData{TraceID: GenNewID(), SpanType: "retrieval_arm", Name: "lexical"})

	c.Stop()

	if store.spanCount() != 1 {
		t.Fatalf("expected Stop to drain the remaining span, got %d", store.spanCount())
	}
}

func TestCollector_SetExporter_ExportsOnFlush(t *testing.T) {
	store := &fakeTracingStore{}
	c := NewCollector(store)

	exp := &fakeExporter{}
	c.SetExporter(exp)

	c.EmitSpan(SpanData{TraceID: GenNewID(), SpanType: "llm_call", Name: "complete"})
	c.flush()

	if exp.exportedCount() != 1 {
		t.Fatalf("expected exporter to receive 1 span, got %d", exp.exportedCount())
	}
}

type fakeExporter struct {
	mu    sync.Mutex
	spans []SpanData
}

func (f *fakeExporter) ExportSpans(ctx context.Context, spans []SpanData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, spans...)
}

func (f *fakeExporter) Shutdown(ctx context.Context) error { return nil }

func (f *fakeExporter) exportedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spans)
}

func TestTruncatePreview_RespectsRuneBoundaries(t *testing.T) {
	short := "hello"
	if truncatePreview(short) != short {
		t.Fatalf("expected short strings to pass through unchanged, got %q", truncatePreview(short))
	}

	long := make([]byte, previewMaxLen+50)
	for i := range long {
		long[i] = 'a'
	}
	out := truncatePreview(string(long))
	if len(out) <= previewMaxLen || len(out) > previewMaxLen+len("...") {
		t.Fatalf("expected truncated output near the max length, got len=%d", len(out))
	}
}

func TestGenNewID_ProducesUniqueIDs(t *testing.T) {
	a := GenNewID()
	b := GenNewID()
	if a == b {
		t.Fatal("expected distinct IDs from successive calls")
	}
}
