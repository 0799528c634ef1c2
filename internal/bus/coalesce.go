// Coalescing debouncer: buffers rapid consecutive user messages from the
// same sender and merges them into a single InboundMessage before the
// engine sees a turn. This keeps a user's multi-message burst from
// tripping the planner once per fragment, each with a stale dedup view of
// the other fragments.
package bus

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// InboundCoalescer buffers rapid inbound messages from the same sender and
// merges them into one message before calling flushFn. System-originated
// messages (heartbeats, scheduled wakes) always bypass the buffer: merging
// a heartbeat into a user's in-flight burst would attribute a system wake
// to the user turn it happened to land next to.
type InboundCoalescer struct {
	window  time.Duration
	mu      sync.Mutex
	buffers map[string]*coalesceBuffer
	flushFn func(InboundMessage)
}

type coalesceBuffer struct {
	messages []InboundMessage
	timer    *time.Timer
}

// NewInboundCoalescer creates a coalescer with the given window and flush
// callback. window<=0 disables coalescing: every message flushes immediately.
func NewInboundCoalescer(window time.Duration, flushFn func(InboundMessage)) *InboundCoalescer {
	return &InboundCoalescer{
		window:  window,
		buffers: make(map[string]*coalesceBuffer),
		flushFn: flushFn,
	}
}

// Push adds a message to the coalesce buffer, or flushes it immediately if
// coalescing is disabled, the message carries media, or it is
// system-originated.
func (c *InboundCoalescer) Push(msg InboundMessage) {
	if c.window <= 0 || msg.Source == SourceSystem {
		c.flushFn(msg)
		return
	}

	key := coalesceKey(msg)

	if len(msg.Media) > 0 {
		c.flushKey(key)
		c.flushFn(msg)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf, exists := c.buffers[key]
	if !exists {
		buf = &coalesceBuffer{}
		c.buffers[key] = buf
	}

	buf.messages = append(buf.messages, msg)

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(c.window, func() {
		c.flushKey(key)
	})

	if len(buf.messages) == 1 {
		slog.Debug("inbound coalesce: buffering", "key", key, "window_ms", c.window.Milliseconds())
	} else {
		slog.Debug("inbound coalesce: message appended", "key", key, "buffered", len(buf.messages))
	}
}

// Stop flushes all pending buffers immediately.
func (c *InboundCoalescer) Stop() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.buffers))
	for k := range c.buffers {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.flushKey(key)
	}
}

func (c *InboundCoalescer) flushKey(key string) {
	c.mu.Lock()
	buf, exists := c.buffers[key]
	if !exists || len(buf.messages) == 0 {
		c.mu.Unlock()
		return
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	msgs := buf.messages
	delete(c.buffers, key)
	c.mu.Unlock()

	merged := mergeInboundMessages(msgs)
	if len(msgs) > 1 {
		slog.Info("inbound coalesce: merged messages", "key", key, "count", len(msgs))
	}
	c.flushFn(merged)
}

func coalesceKey(msg InboundMessage) string {
	return msg.Channel + ":" + msg.ChatID + ":" + msg.SenderID
}

// mergeInboundMessages combines multiple messages into one: content joined
// with newlines, media concatenated, other fields taken from the last.
func mergeInboundMessages(msgs []InboundMessage) InboundMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}
	last := msgs[len(msgs)-1]

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	last.Content = strings.Join(parts, "\n")

	var allMedia []string
	for _, m := range msgs {
		allMedia = append(allMedia, m.Media...)
	}
	last.Media = allMedia
	return last
}
