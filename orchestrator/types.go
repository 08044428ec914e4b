package orchestrator

import (
	"context"

	"github.com/convai-tools/latency-pipeline/clients"
	"github.com/convai-tools/latency-pipeline/nodes"
	"github.com/convai-tools/latency-pipeline/report"
)

// Source is where agent configs and transcripts come from. clients.HTTP and
// clients.Dir both satisfy it.
type Source interface {
	AgentConfig(ctx context.Context, agentID string) (*nodes.AgentConfig, error)
	ListConversations(ctx context.Context, agentID, cursor string, pageSize int) (*clients.ConversationPage, error)
	Conversation(ctx context.Context, conversationID string) (*clients.ConversationDetail, error)
}

// Recorder persists a finished run somewhere other than the run directory.
type Recorder interface {
	SaveBundle(ctx context.Context, b *report.Bundle) error
}

type Result struct {
	RunDir      string
	RawPath     string
	SummaryPath string
	Bundle      *report.Bundle
}

var (
	_ Source = (*clients.HTTP)(nil)
	_ Source = (*clients.Dir)(nil)
)
