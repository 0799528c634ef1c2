package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/slvnlrt/memengine/internal/retry"
)

// Embedder is the shared, thread-safe synchronous embedding kernel
// (spec.md §6): embed_one(text) → Vector(384). A single instance is
// reused across all channels; it is never reconstructed per call.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// CachedEmbedder wraps an Embedder with a bounded LRU cache keyed by
// content hash and a token-bucket rate limiter, so bursts of dedup
// cache-misses don't hammer the underlying model host. Retries transient
// failures with backoff before surfacing ErrEmbeddingUnavailable.
type CachedEmbedder struct {
	inner   Embedder
	cache   *lru.Cache[string, []float32]
	limiter *rate.Limiter
	retryCfg retry.Config
}

// NewCachedEmbedder wraps inner with an LRU cache of the given size and a
// rate limiter allowing ratePerSecond requests per second, with bursts of
// up to burst requests.
func NewCachedEmbedder(inner Embedder, cacheSize int, ratePerSecond float64, burst int) (*CachedEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	if burst <= 0 {
		burst = 5
	}
	return &CachedEmbedder{
		inner:    inner,
		cache:    c,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		retryCfg: retry.DefaultConfig(),
	}, nil
}

func (c *CachedEmbedder) Dims() int { return c.inner.Dims() }

// EmbedOne returns the cached vector for text's content hash if present;
// otherwise waits for a rate-limiter token, calls the inner embedder with
// retry, and caches the result.
func (c *CachedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrEmbeddingUnavailable, err)
	}

	vec, _, err := retry.Do(func() ([]float32, error) {
		return c.inner.EmbedOne(ctx, text)
	}, c.retryCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	c.cache.Add(key, vec)
	return vec, nil
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h[:16])
}

// CosineSimilarity returns the cosine similarity of two vectors in
// [-1, 1]. Mismatched dimensions or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
