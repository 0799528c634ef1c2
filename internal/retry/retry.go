// Package retry provides exponential-backoff retry, used by the embedding
// kernel to absorb transient model-host failures without surfacing
// EmbeddingUnavailable on the first hiccup.
package retry

import (
	"math/rand/v2"
	"time"
)

// Config controls exponential backoff retry.
type Config struct {
	MaxRetries int           // max retry attempts (default 3, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 2s)
	MaxDelay   time.Duration // maximum backoff delay (default 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Do runs fn, retrying on error with exponential backoff + jitter.
// Returns the first successful result or the last error after all retries.
func Do[T any](fn func() (T, error), cfg Config) (result T, attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, attempt + 1, nil
		}

		if attempt < cfg.MaxRetries {
			time.Sleep(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt))
		}
	}
	return result, cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}

// maxPreviewBytes bounds how much memory content a trace line may log.
const maxPreviewBytes = 16 * 1024

// TruncatePreview truncates s to maxPreviewBytes, appending a marker if
// truncated.
func TruncatePreview(s string) string {
	if len(s) <= maxPreviewBytes {
		return s
	}
	return s[:maxPreviewBytes] + "...[truncated]"
}
