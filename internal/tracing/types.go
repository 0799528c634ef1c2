// Package tracing buffers and batches span/trace records describing one
// agent turn — retrieval arms, the dedup filter, and the model call —
// for a durable store and, optionally, an external OTLP backend.
package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GenNewID returns a fresh random identifier for a trace or span.
func GenNewID() uuid.UUID { return uuid.New() }

// TraceData is one agent turn's top-level record.
type TraceData struct {
	ID            uuid.UUID
	AgentID       string
	ChannelID     string
	StartTime     time.Time
	EndTime       *time.Time
	Status        string // "running", "ok", "error"
	Error         string
	OutputPreview string
}

// SpanData is one step within a trace: a retrieval arm, the dedup filter,
// or a model call.
type SpanData struct {
	ID            uuid.UUID
	TraceID       uuid.UUID
	ParentSpanID  *uuid.UUID
	AgentID       *uuid.UUID
	SpanType      string // "retrieval_arm", "dedup_filter", "llm_call", "tool_call"
	Name          string
	StartTime     time.Time
	EndTime       *time.Time
	DurationMS    int
	Status        string
	Error         string
	Model         string
	Provider      string
	InputTokens   int
	OutputTokens  int
	FinishReason  string
	ToolName      string
	ToolCallID    string
	InputPreview  string
	OutputPreview string
	CreatedAt     time.Time
}

// TracingStore is the durable backend a Collector flushes batches into.
type TracingStore interface {
	CreateTrace(ctx context.Context, trace *TraceData) error
	UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error
	BatchCreateSpans(ctx context.Context, spans []SpanData) error
	BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error
}
