package agent

import (
	"context"

	"github.com/slvnlrt/memengine/internal/bus"
	"github.com/slvnlrt/memengine/internal/transcript"
)

// Agent is the core abstraction for an AI agent execution loop.
// Implemented by *Loop; extracted as an interface for testability and composability.
type Agent interface {
	ID() string
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	IsRunning() bool
	Model() string
}

// RunRequest carries one turn's trigger into the agent loop: the inbound
// message that started it and the channel whose transcript it runs
// against.
type RunRequest struct {
	ChannelID string
	Message   bus.InboundMessage
}

// RunResult is what a completed turn produced: the assistant's reply text
// and the transcript state it ran against, for the caller to persist.
type RunResult struct {
	Reply      string
	Transcript *transcript.Transcript
}
