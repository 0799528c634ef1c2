package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEmbeddingCache is a distributed embedding cache tier for managed
// (multi-instance) deployments, fronting a CachedEmbedder's in-process LRU
// so a cache warm on one instance benefits every other instance sharing
// the same Redis.
type RedisEmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisEmbeddingCache wires a go-redis client as the shared tier. ttl<=0
// means entries never expire.
func NewRedisEmbeddingCache(client *redis.Client, ttl time.Duration) *RedisEmbeddingCache {
	return &RedisEmbeddingCache{client: client, ttl: ttl, prefix: "memengine:emb:"}
}

// Get returns the cached vector for text's content hash, or ok=false on a
// miss or transport error (a miss degrades to a fresh embed call, never a
// turn failure).
func (r *RedisEmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := r.client.Get(ctx, r.prefix+contentHash(text)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// Set stores a vector under text's content hash.
func (r *RedisEmbeddingCache) Set(ctx context.Context, text string, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+contentHash(text), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DistributedEmbedder layers a RedisEmbeddingCache in front of a
// CachedEmbedder: Redis is checked first (fast, shared across instances),
// then the in-process path (local LRU, then the model kernel with retry).
type DistributedEmbedder struct {
	local *CachedEmbedder
	redis *RedisEmbeddingCache
}

// NewDistributedEmbedder composes the two cache tiers.
func NewDistributedEmbedder(local *CachedEmbedder, redisCache *RedisEmbeddingCache) *DistributedEmbedder {
	return &DistributedEmbedder{local: local, redis: redisCache}
}

func (d *DistributedEmbedder) Dims() int { return d.local.Dims() }

func (d *DistributedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := d.redis.Get(ctx, text); ok {
		return vec, nil
	}

	vec, err := d.local.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := d.redis.Set(ctx, text, vec); err != nil {
		// Best-effort: a cache write failure must never fail embedding.
		return vec, nil
	}
	return vec, nil
}
