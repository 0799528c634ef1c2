package injection

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// EstimateTokens counts text's tokens with the reference tokenizer,
// falling back to a conservative chars/4 heuristic if the tokenizer's
// vocabulary data failed to load. It counts injection block text along
// with everything else — a conservative over-estimate triggers compaction
// slightly earlier, which is acceptable.
func EstimateTokens(text string) int {
	e, err := encoding()
	if err != nil || e == nil {
		return (len(text) + 3) / 4
	}
	return len(e.Encode(text, nil, nil))
}
