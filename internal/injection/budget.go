package injection

import (
	"strings"

	"github.com/slvnlrt/memengine/internal/memory"
)

// Prefix is the stable text every InjectionBlock begins with. The
// persistence governor identifies injection blocks purely by this prefix —
// no sidecar metadata.
const Prefix = "[Context from memory]"

const pinnedHeader = "[Pinned context]"
const contextualHeader = "[Relevant to this message]"

// EnforceBudget fills max_total slots with pinned candidates first
// (guaranteed slots), then contextual candidates in fused-score order for
// whatever remains.
func EnforceBudget(pinned, contextual []memory.Scored, maxTotal int) (admittedPinned, admittedContextual []memory.Scored) {
	if maxTotal <= 0 {
		return nil, nil
	}
	if len(pinned) > maxTotal {
		return pinned[:maxTotal], nil
	}
	admittedPinned = pinned

	remaining := maxTotal - len(pinned)
	if remaining <= 0 {
		return admittedPinned, nil
	}
	if len(contextual) > remaining {
		admittedContextual = contextual[:remaining]
	} else {
		admittedContextual = contextual
	}
	return admittedPinned, admittedContextual
}

// FormatBlock renders the admitted memories into an InjectionBlock's text.
// It returns ok=false when both subsets are empty — the prefix is never
// emitted alone.
func FormatBlock(pinned, contextual []memory.Scored) (text string, ok bool) {
	if len(pinned) == 0 && len(contextual) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(Prefix)

	if len(pinned) > 0 {
		b.WriteString("\n")
		b.WriteString(pinnedHeader)
		for _, s := range pinned {
			b.WriteString("\n[")
			b.WriteString(string(s.Memory.Kind))
			b.WriteString("] ")
			b.WriteString(s.Memory.Content)
		}
	}

	if len(contextual) > 0 {
		b.WriteString("\n")
		b.WriteString(contextualHeader)
		for _, s := range contextual {
			b.WriteString("\n[")
			b.WriteString(string(s.Memory.Kind))
			b.WriteString("] ")
			b.WriteString(s.Memory.Content)
		}
	}

	return b.String(), true
}

// IsInjectionBlock reports whether content is an injection block, by its
// stable leading prefix.
func IsInjectionBlock(content string) bool {
	return strings.HasPrefix(content, Prefix)
}
