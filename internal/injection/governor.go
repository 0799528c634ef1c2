package injection

import "github.com/slvnlrt/memengine/internal/transcript"

// PurgeOldBlocks removes injection blocks from t so that at most keep
// remain, oldest purged first. Call with keep = max_injected_blocks_in_history-1
// before inserting a new block, or keep = 0 to strip every existing block
// when the knob is set to 0 (ephemeral mode).
func PurgeOldBlocks(t *transcript.Transcript, keep int) {
	if keep < 0 {
		keep = 0
	}

	var blockIdx []int
	for i, m := range t.Messages() {
		if m.Role == transcript.RoleUser && IsInjectionBlock(m.Content) {
			blockIdx = append(blockIdx, i)
		}
	}

	toRemove := len(blockIdx) - keep
	if toRemove <= 0 {
		return
	}

	for i := 0; i < toRemove; i++ {
		t.RemoveAt(blockIdx[i] - i) // indices shift left as we remove
	}
}

// FilterForCompaction returns the subset of messages the compactor should
// summarize from — genuine dialogue only, injection blocks excluded.
func FilterForCompaction(t *transcript.Transcript) []transcript.Message {
	var out []transcript.Message
	for _, m := range t.Messages() {
		if m.Role == transcript.RoleUser && IsInjectionBlock(m.Content) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// CountInjectionBlocks returns how many live injection blocks the
// transcript currently carries.
func CountInjectionBlocks(t *transcript.Transcript) int {
	n := 0
	for _, m := range t.Messages() {
		if m.Role == transcript.RoleUser && IsInjectionBlock(m.Content) {
			n++
		}
	}
	return n
}
