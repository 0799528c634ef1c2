package injection

import (
	"log/slog"
	"time"

	"github.com/slvnlrt/memengine/internal/memory"
	"github.com/slvnlrt/memengine/internal/retry"
)

// admittedSource distinguishes an admitted memory's originating arm for
// the per-memory debug trace.
type admittedSource string

const (
	sourcePinned     admittedSource = "pinned"
	sourceContextual admittedSource = "contextual"
)

// traceAdmitted emits one debug line per admitted memory.
func traceAdmitted(m memory.Memory, source admittedSource, score float64) {
	slog.Debug("memory admitted",
		"id", m.ID,
		"kind", m.Kind,
		"source", source,
		"score", score,
		"preview", retry.TruncatePreview(m.Content),
	)
}

// traceTurn emits one info line per turn summarizing the engine's work.
func traceTurn(pinnedCount, contextualCount, dedupedCount, total int, elapsed time.Duration) {
	slog.Info("memory injection turn",
		"pinned_count", pinnedCount,
		"contextual_count", contextualCount,
		"deduped_count", dedupedCount,
		"total", total,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// traceSkip emits an info line when the engine short-circuits without
// producing an injection block.
func traceSkip(reason string) {
	slog.Info("memory injection skipped", "reason", reason)
}
