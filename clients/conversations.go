package clients

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/convai-tools/latency-pipeline/nodes"
)

// --- Agent (/agents/{id}) ---

func (h *HTTP) AgentConfig(ctx context.Context, agentID string) (*nodes.AgentConfig, error) {
	var out nodes.AgentConfig
	if err := h.getJSON(ctx, "/agents/"+url.PathEscape(agentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Conversations (/conversations) ---

type ConversationSummary struct {
	ConversationID    string `json:"conversation_id"`
	StartTimeUnixSecs *int64 `json:"start_time_unix_secs"`
	CallDurationSecs  int    `json:"call_duration_secs"`
	Status            string `json:"status"`
	CallSuccessful    string `json:"call_successful"`
	MessageCount      int    `json:"message_count"`
}

type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
	NextCursor    string                `json:"next_cursor"`
}

func (h *HTTP) ListConversations(ctx context.Context, agentID, cursor string, pageSize int) (*ConversationPage, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)
	q.Set("page_size", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out ConversationPage
	if err := h.getJSON(ctx, "/conversations", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Conversation detail (/conversations/{id}) ---

// ConversationDetail keeps transcript entries undecoded so that one bad turn
// can be skipped without losing the rest.
type ConversationDetail struct {
	ConversationID string            `json:"conversation_id"`
	Status         string            `json:"status"`
	Transcript     []json.RawMessage `json:"transcript"`
}

func (h *HTTP) Conversation(ctx context.Context, conversationID string) (*ConversationDetail, error) {
	var out ConversationDetail
	if err := h.getJSON(ctx, "/conversations/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
