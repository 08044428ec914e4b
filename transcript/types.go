package transcript

const (
	RoleAgent = "agent"
	RoleUser  = "user"

	MetricLLMTTFB         = "convai_llm_service_ttfb"
	MetricTTSTTFB         = "convai_tts_service_ttfb"
	MetricLLMTTFSentence  = "convai_llm_service_ttf_sentence"
	AttributionMethodNode = "workflow_node_id in agent_metadata"
)

// RawTurn is one transcript entry as returned by the platform.
type RawTurn struct {
	Role                    string         `json:"role"`
	TimeInCallSecs          int            `json:"time_in_call_secs"`
	Message                 string         `json:"message"`
	ToolCalls               []ToolCall     `json:"tool_calls"`
	AgentMetadata           *AgentMetadata `json:"agent_metadata,omitempty"`
	ConversationTurnMetrics *TurnMetrics   `json:"conversation_turn_metrics,omitempty"`
	Interrupted             bool           `json:"interrupted"`
}

type ToolCall struct {
	ToolName string `json:"tool_name"`
}

type AgentMetadata struct {
	WorkflowNodeID string `json:"workflow_node_id"`
}

// TurnMetrics is the per-turn metric bag, keyed by metric name.
type TurnMetrics struct {
	Metrics map[string]*Metric `json:"metrics"`
}

type Metric struct {
	ElapsedTime *float64 `json:"elapsed_time"` // seconds
}

// TurnRecord is the latency record of one substantive agent turn.
//
// Pointer fields are nil when the transcript carries no data for them. The
// coarse response latency comes from second-resolution call offsets and is
// kept apart from the service TTFB metrics.
type TurnRecord struct {
	ConversationID            string   `json:"conversation_id"`
	TurnIndex                 int      `json:"turn_index"`
	TimeInCallSecs            int      `json:"time_in_call_secs"`
	Role                      string   `json:"role"`
	ActiveNodeID              string   `json:"active_node_id"`
	ActiveNode                string   `json:"active_node"`
	ActiveLLM                 string   `json:"active_llm"`
	LLMType                   string   `json:"llm_type"`
	LLMTTFBMs                 *int64   `json:"llm_ttfb_ms"`
	TTSTTFBMs                 *int64   `json:"tts_ttfb_ms"`
	TTFFirstSentenceMs        *int64   `json:"ttf_first_sentence_ms"`
	ResponseLatencySecsCoarse *int     `json:"response_latency_secs_coarse"`
	TurnDurationMs            *int64   `json:"turn_duration_ms"`
	ResponseWordCount         int      `json:"response_word_count"`
	ResponseCharCount         int      `json:"response_char_count"`
	HasToolCalls              bool     `json:"has_tool_calls"`
	ToolNames                 []string `json:"tool_names"`
	Interrupted               bool     `json:"interrupted"`
	NodeAttributionMethod     string   `json:"node_attribution_method"`
}
