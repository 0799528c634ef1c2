package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the standalone-mode Store adapter: relational metadata and
// an FTS5 lexical index live in the same database file. Vector search is
// in-memory cosine similarity over cached embeddings unless a VectorIndex
// is attached (see vectorstore.go), and graph traversal is a BFS over the
// associations table.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	vec VectorIndex // optional, nil = in-memory cosine fallback
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// initializes the memories/associations/embeddings schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("memory store opened", "path", dbPath)
	return s, nil
}

// SetVectorIndex attaches an external vector index (e.g. chromem-go). When
// set, VectorSearch and GetEmbedding delegate to it instead of scanning the
// embeddings table in memory.
func (s *SQLiteStore) SetVectorIndex(v VectorIndex) {
	s.vec = v
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_access_at INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			channel_scope TEXT NOT NULL DEFAULT '',
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_channel ON memories(channel_scope)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			id UNINDEXED,
			tokenize='porter unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			memory_id TEXT PRIMARY KEY,
			vector TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS associations (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_from ON associations(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_to ON associations(to_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Put inserts or replaces a memory and, if provided, its embedding.
func (s *SQLiteStore) Put(ctx context.Context, m Memory, emb []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	tx.ExecContext(ctx, "DELETE FROM memories_fts WHERE id = ?", m.ID)

	deleted := 0
	if m.Deleted {
		deleted = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO memories
		(id, content, kind, importance, created_at, last_access_at, access_count, source, channel_scope, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Kind), m.Importance,
		m.CreatedAt.Unix(), m.LastAccessAt.Unix(), m.AccessCount, m.Source, m.ChannelScope, deleted)
	if err != nil {
		return fmt.Errorf("%w: upsert memory: %v", ErrStoreUnavailable, err)
	}

	if !m.Deleted {
		if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts (content, id) VALUES (?, ?)`, m.Content, m.ID); err != nil {
			return fmt.Errorf("%w: insert fts: %v", ErrStoreUnavailable, err)
		}
	}

	if len(emb) > 0 {
		vecJSON, _ := json.Marshal(emb)
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO embeddings (memory_id, vector) VALUES (?, ?)`,
			m.ID, string(vecJSON)); err != nil {
			return fmt.Errorf("%w: upsert embedding: %v", ErrStoreUnavailable, err)
		}
		if s.vec != nil {
			if err := s.vec.Upsert(ctx, m.ID, emb, m.Content); err != nil {
				slog.Warn("vector index upsert failed", "id", m.ID, "error", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Link inserts a typed directed association between two memories.
func (s *SQLiteStore) Link(ctx context.Context, a Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = NewAssociationID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO associations (id, from_id, to_id, tag, created_at)
		VALUES (?, ?, ?, ?, ?)`, a.ID, a.FromID, a.ToID, string(a.Tag), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: link: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetByType(ctx context.Context, kind Kind, limit int, sort_ SortMode) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	order := "created_at DESC"
	if sort_ == SortImportance {
		order = "importance DESC, created_at DESC"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE kind = ? AND deleted = 0 ORDER BY %s LIMIT ?`, memoryColumns, order),
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get_by_type: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) GetHighImportance(ctx context.Context, threshold float64, limit int) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE importance >= ? AND deleted = 0 ORDER BY importance DESC LIMIT ?`, memoryColumns),
		threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get_high_importance: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) GetRecentSince(ctx context.Context, since time.Duration, limit int, channelScope string) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	cutoff := time.Now().Add(-since).Unix()

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE created_at >= ? AND deleted = 0`, memoryColumns)
	args := []interface{}{cutoff}
	if channelScope != "" {
		query += " AND channel_scope = ?"
		args = append(args, channelScope)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get_recent_since: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, id string) (*Embedding, error) {
	if s.vec != nil {
		return s.vec.Get(ctx, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var vecJSON string
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE memory_id = ?`, id).Scan(&vecJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get_embedding: %v", ErrStoreUnavailable, err)
	}
	var vec []float32
	if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
		return nil, fmt.Errorf("%w: decode embedding: %v", ErrStoreUnavailable, err)
	}
	return &Embedding{MemoryID: id, Vector: vec}, nil
}

func (s *SQLiteStore) VectorSearch(ctx context.Context, query []float32, k int) ([]Scored, error) {
	if s.vec != nil {
		return s.vec.Search(ctx, query, k)
	}

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, vector FROM embeddings`)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: vector_search: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	type cand struct {
		id  string
		vec []float32
	}
	var cands []cand
	for rows.Next() {
		var id, vecJSON string
		if err := rows.Scan(&id, &vecJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		cands = append(cands, cand{id, vec})
	}

	type ranked struct {
		id   string
		dist float64
	}
	scored := make([]ranked, 0, len(cands))
	for _, c := range cands {
		sim := CosineSimilarity(query, c.vec)
		scored = append(scored, ranked{c.id, 1 - float64(sim)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}

	ids := make([]string, len(scored))
	for i, r := range scored {
		ids[i] = r.id
	}
	mems, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, 0, len(scored))
	for _, r := range scored {
		if m, ok := mems[r.id]; ok {
			out = append(out, Scored{Memory: m, Value: r.dist})
		}
	}
	return out, nil
}

func (s *SQLiteStore) FTSSearch(ctx context.Context, text string, k int) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = 20
	}
	// Normalize BM25 rank to (0,1], higher is better: 1/(1+abs(rank)).
	query := fmt.Sprintf(`SELECT %s, 1.0 / (1.0 + abs(f.rank)) AS score
		FROM memories_fts f JOIN memories m ON m.id = f.id
		WHERE f.content MATCH ? AND m.deleted = 0
		ORDER BY f.rank LIMIT ?`, memoryColumnsPrefixed)

	rows, err := s.db.QueryContext(ctx, query, text, k)
	if err != nil {
		return nil, fmt.Errorf("%w: fts_search: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var m Memory
		var score float64
		if err := scanMemoryRow(rows, &m, &score); err != nil {
			continue
		}
		out = append(out, Scored{Memory: m, Value: score})
	}
	return out, nil
}

// Neighbors does a breadth-first walk over the associations table starting
// from seedIDs, up to maxDepth hops, following only edges whose tag is in
// edgeFilter (or any tag if edgeFilter is empty).
func (s *SQLiteStore) Neighbors(ctx context.Context, seedIDs []string, maxDepth int, edgeFilter []EdgeTag) ([]Scored, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	allowed := make(map[EdgeTag]bool, len(edgeFilter))
	for _, e := range edgeFilter {
		allowed[e] = true
	}

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id, tag FROM associations`)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: neighbors: %v", ErrStoreUnavailable, err)
	}
	type edge struct {
		from, to string
		tag      EdgeTag
	}
	var edges []edge
	for rows.Next() {
		var e edge
		var tag string
		if err := rows.Scan(&e.from, &e.to, &tag); err != nil {
			continue
		}
		e.tag = EdgeTag(tag)
		if len(allowed) == 0 || allowed[e.tag] {
			edges = append(edges, e)
		}
	}
	rows.Close()

	adj := make(map[string][]edge)
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e)
	}

	visited := make(map[string]int) // id -> hops
	for _, id := range seedIDs {
		visited[id] = 0
	}
	frontier := append([]string(nil), seedIDs...)
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, e := range adj[id] {
				if _, seen := visited[e.to]; seen {
					continue
				}
				visited[e.to] = depth
				next = append(next, e.to)
			}
		}
		frontier = next
	}

	var ids []string
	hops := make(map[string]int)
	for id, h := range visited {
		if h == 0 {
			continue // seeds themselves are not "neighbors"
		}
		ids = append(ids, id)
		hops[id] = h
	}
	mems, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Scored, 0, len(mems))
	for id, m := range mems {
		score := m.Importance / float64(hops[id])
		out = append(out, Scored{Memory: m, Value: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

func (s *SQLiteStore) getByIDs(ctx context.Context, ids []string) (map[string]Memory, error) {
	out := make(map[string]Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s) AND deleted = 0`, memoryColumns, join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: getByIDs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range mems {
		out[m.ID] = m
	}
	return out, nil
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const memoryColumns = "id, content, kind, importance, created_at, last_access_at, access_count, source, channel_scope, deleted"
const memoryColumnsPrefixed = "m.id, m.content, m.kind, m.importance, m.created_at, m.last_access_at, m.access_count, m.source, m.channel_scope, m.deleted"

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		if err := scanMemoryRow(rows, &m, nil); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// rowScanner abstracts *sql.Rows for the shared column layout.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemoryRow(rows rowScanner, m *Memory, score *float64) error {
	var kind string
	var createdAt, lastAccessAt int64
	var deleted int

	dest := []interface{}{&m.ID, &m.Content, &kind, &m.Importance, &createdAt, &lastAccessAt, &m.AccessCount, &m.Source, &m.ChannelScope, &deleted}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	m.Kind = Kind(kind)
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.LastAccessAt = time.Unix(lastAccessAt, 0).UTC()
	m.Deleted = deleted != 0
	return nil
}
