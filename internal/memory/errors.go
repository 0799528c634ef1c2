package memory

import "errors"

// ErrStoreUnavailable is returned by any store adapter operation whose
// backing index or transport is unreachable or returned malformed data.
// Callers must treat it as a local, recoverable failure — never panic.
var ErrStoreUnavailable = errors.New("memory: store unavailable")

// ErrEmbeddingUnavailable is returned by an Embedder when it cannot produce
// a vector for a given input (model unreachable, input rejected, etc).
var ErrEmbeddingUnavailable = errors.New("memory: embedding unavailable")
