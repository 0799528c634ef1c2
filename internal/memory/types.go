// Package memory holds the durable data model and store adapters for the
// memory injection engine: memories, associations between them, their
// embeddings, and the typed queries the hybrid search layer composes.
package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Kind is one of the eight closed memory categories.
type Kind string

const (
	KindIdentity    Kind = "identity"
	KindGoal        Kind = "goal"
	KindDecision    Kind = "decision"
	KindTodo        Kind = "todo"
	KindPreference  Kind = "preference"
	KindFact        Kind = "fact"
	KindEvent       Kind = "event"
	KindObservation Kind = "observation"
)

// Kinds lists every valid Kind in a stable order, used for validation and
// for iterating the pinned-kinds configuration.
var Kinds = []Kind{
	KindIdentity, KindGoal, KindDecision, KindTodo,
	KindPreference, KindFact, KindEvent, KindObservation,
}

// DefaultImportance returns the fixed default importance for a kind.
// Unknown kinds return 0 and ok=false.
func DefaultImportance(k Kind) (float64, bool) {
	v, ok := defaultImportance[k]
	return v, ok
}

var defaultImportance = map[Kind]float64{
	KindIdentity:    1.0,
	KindGoal:        0.8,
	KindDecision:    0.7,
	KindTodo:        0.6,
	KindPreference:  0.5,
	KindFact:        0.4,
	KindEvent:       0.35,
	KindObservation: 0.3,
}

// ValidKind reports whether k is one of the eight closed kinds.
func ValidKind(k Kind) bool {
	_, ok := defaultImportance[k]
	return ok
}

// Memory is a durable long-term record. Identifiers are ULIDs: lexically
// sortable by creation time, which keeps "recent" ordering cheap for stores
// that can only sort by primary key.
type Memory struct {
	ID            string
	Content       string
	Kind          Kind
	Importance    float64
	CreatedAt     time.Time
	LastAccessAt  time.Time
	AccessCount   int
	Source        string
	ChannelScope  string
	Deleted       bool
}

// NewMemoryID returns a fresh, time-ordered memory identifier.
func NewMemoryID() string {
	return ulid.Make().String()
}

// EdgeTag is one of the four directed association relations.
type EdgeTag string

const (
	EdgeUpdates     EdgeTag = "updates"
	EdgeContradicts EdgeTag = "contradicts"
	EdgeCausedBy    EdgeTag = "caused_by"
	EdgeRelatedTo   EdgeTag = "related_to"
)

// ValidEdgeTag reports whether e is one of the four relation kinds.
func ValidEdgeTag(e EdgeTag) bool {
	switch e {
	case EdgeUpdates, EdgeContradicts, EdgeCausedBy, EdgeRelatedTo:
		return true
	default:
		return false
	}
}

// edgeWeight gives each edge tag a weight: updates/caused_by carry more
// evidence toward relevance than a loose related_to link. Neighbors does
// not apply these weights when scoring graph hits.
var edgeWeight = map[EdgeTag]float64{
	EdgeUpdates:     1.0,
	EdgeCausedBy:    1.0,
	EdgeContradicts: 0.6,
	EdgeRelatedTo:   0.3,
}

// EdgeWeight returns the traversal weight for an edge tag, or 0.3 (the
// related_to default) for anything unrecognized.
func EdgeWeight(e EdgeTag) float64 {
	if w, ok := edgeWeight[e]; ok {
		return w
	}
	return edgeWeight[EdgeRelatedTo]
}

// Association is a typed directed edge between two memories.
type Association struct {
	ID        string
	FromID    string
	ToID      string
	Tag       EdgeTag
	CreatedAt time.Time
}

// NewAssociationID returns a fresh association identifier.
func NewAssociationID() string {
	return uuid.NewString()
}

// Embedding is a fixed-dimensional dense vector attached 1:1 to a memory.
const EmbeddingDims = 384

type Embedding struct {
	MemoryID string
	Vector   []float32
}

// SortMode orders a get_by_type result set.
type SortMode string

const (
	SortRecent     SortMode = "recent"
	SortImportance SortMode = "importance"
)

// SearchConfig carries request-time hybrid-search parameters (spec.md §3).
type SearchConfig struct {
	PerSourceCap        int
	TotalCap            int
	GraphSeedThreshold  float64
	GraphSeedLimit      int
	GraphMaxDepth       int
	KindFilter          []Kind
}

// DefaultSearchConfig returns sane defaults for ad-hoc callers (tests, CLI).
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		PerSourceCap:       20,
		TotalCap:           25,
		GraphSeedThreshold: 0.7,
		GraphSeedLimit:     10,
		GraphMaxDepth:      2,
	}
}
