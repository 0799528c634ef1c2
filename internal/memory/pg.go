package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore is the managed-mode Store adapter: Postgres holds memories,
// associations, and embeddings behind the same Store contract SQLiteStore
// implements, so the engine is storage-agnostic above this layer. Lexical
// search uses tsvector/tsquery instead of FTS5; vector search is an
// in-memory cosine scan unless a VectorIndex is attached, same fallback as
// the standalone adapter.
type PGStore struct {
	db  *sql.DB
	vec VectorIndex
}

// NewPGStore opens a Postgres connection pool via the pgx stdlib driver and
// ensures the schema exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrStoreUnavailable, err)
	}

	s := &PGStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("memory store opened (postgres)")
	return s, nil
}

func (s *PGStore) SetVectorIndex(v VectorIndex) { s.vec = v }

func (s *PGStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			last_access_at BIGINT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			channel_scope TEXT NOT NULL DEFAULT '',
			deleted SMALLINT NOT NULL DEFAULT 0,
			content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_channel ON memories(channel_scope)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tsv ON memories USING GIN(content_tsv)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
			vector JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS associations (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_from ON associations(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_to ON associations(to_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: exec migration: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *PGStore) Put(ctx context.Context, m Memory, emb []float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO memories
		(id, content, kind, importance, created_at, last_access_at, access_count, source, channel_scope, deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			content=EXCLUDED.content, kind=EXCLUDED.kind, importance=EXCLUDED.importance,
			last_access_at=EXCLUDED.last_access_at, access_count=EXCLUDED.access_count,
			source=EXCLUDED.source, channel_scope=EXCLUDED.channel_scope, deleted=EXCLUDED.deleted`,
		m.ID, m.Content, string(m.Kind), m.Importance,
		m.CreatedAt.Unix(), m.LastAccessAt.Unix(), m.AccessCount, m.Source, m.ChannelScope, boolToInt(m.Deleted))
	if err != nil {
		return fmt.Errorf("%w: upsert memory: %v", ErrStoreUnavailable, err)
	}

	if len(emb) > 0 {
		vecJSON, _ := json.Marshal(emb)
		if _, err := tx.ExecContext(ctx, `INSERT INTO embeddings (memory_id, vector) VALUES ($1,$2)
			ON CONFLICT (memory_id) DO UPDATE SET vector=EXCLUDED.vector`, m.ID, string(vecJSON)); err != nil {
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

func (s *PGStore) Link(ctx context.Context, a Association) error {
	if a.ID == "" {
		a.ID = NewAssociationID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO associations (id, from_id, to_id, tag, created_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.FromID, a.ToID, string(a.Tag), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: link: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PGStore) GetByType(ctx context.Context, kind Kind, limit int, sortMode SortMode) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	order := "created_at DESC"
	if sortMode == SortImportance {
		order = "importance DESC, created_at DESC"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE kind=$1 AND deleted=0 ORDER BY %s LIMIT $2`, memoryColumns, order),
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get_by_type: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *PGStore) GetHighImportance(ctx context.Context, threshold float64, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE importance>=$1 AND deleted=0 ORDER BY importance DESC LIMIT $2`, memoryColumns),
		threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get_high_importance: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *PGStore) GetRecentSince(ctx context.Context, since time.Duration, limit int, channelScope string) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	cutoff := time.Now().Add(-since).Unix()
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE created_at>=$1 AND deleted=0`, memoryColumns)
	args := []interface{}{cutoff}
	if channelScope != "" {
		query += " AND channel_scope=$2"
		args = append(args, channelScope)
		query += " ORDER BY created_at DESC LIMIT $3"
	} else {
		query += " ORDER BY created_at DESC LIMIT $2"
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get_recent_since: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *PGStore) GetEmbedding(ctx context.Context, id string) (*Embedding, error) {
	if s.vec != nil {
		return s.vec.Get(ctx, id)
	}
	var vecJSON string
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE memory_id=$1`, id).Scan(&vecJSON)
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

func (s *PGStore) VectorSearch(ctx context.Context, query []float32, k int) ([]Scored, error) {
	if s.vec != nil {
		return s.vec.Search(ctx, query, k)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, vector FROM embeddings`)
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

func (s *PGStore) FTSSearch(ctx context.Context, text string, k int) ([]Scored, error) {
	if k <= 0 {
		k = 20
	}
	query := fmt.Sprintf(`SELECT %s, ts_rank(m.content_tsv, plainto_tsquery('english', $1)) AS score
		FROM memories m
		WHERE m.content_tsv @@ plainto_tsquery('english', $1) AND m.deleted=0
		ORDER BY score DESC LIMIT $2`, memoryColumnsPrefixed)

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

func (s *PGStore) Neighbors(ctx context.Context, seedIDs []string, maxDepth int, edgeFilter []EdgeTag) ([]Scored, error) {
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

	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id, tag FROM associations`)
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

	visited := make(map[string]int)
	seedSet := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seedSet[id] = true
	}
	frontier := append([]string(nil), seedIDs...)
	for hop := 1; hop <= maxDepth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, e := range adj[id] {
				if seedSet[e.to] {
					continue
				}
				if _, seen := visited[e.to]; !seen {
					visited[e.to] = hop
					next = append(next, e.to)
				}
			}
		}
		frontier = next
	}
	if len(visited) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	mems, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, 0, len(mems))
	for id, hops := range visited {
		if m, ok := mems[id]; ok {
			out = append(out, Scored{Memory: m, Value: m.Importance / float64(hops)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

func (s *PGStore) getByIDs(ctx context.Context, ids []string) (map[string]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s) AND deleted=0`, memoryColumns, join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get_by_ids: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Memory, len(mems))
	for _, m := range mems {
		out[m.ID] = m
	}
	return out, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
