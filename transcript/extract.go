package transcript

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/convai-tools/latency-pipeline/nodes"
)

// Extract deduplicates one conversation's transcript and returns a record per
// agent turn that has text or tool calls. Turn indices start at zero and count
// only the turns that produce a record.
func Extract(conversationID string, turns []RawTurn, nodeMap nodes.Map, rootLLM string) []TurnRecord {
	cleaned := Dedup(turns)
	records := make([]TurnRecord, 0, len(cleaned))

	for idx, turn := range cleaned {
		if turn.Role != RoleAgent {
			continue
		}
		if strings.TrimSpace(turn.Message) == "" && len(turn.ToolCalls) == 0 {
			continue
		}

		nodeID := workflowNodeID(turn)
		info := nodeMap.Lookup(nodeID, rootLLM)

		toolNames := make([]string, 0, len(turn.ToolCalls))
		for _, tc := range turn.ToolCalls {
			toolNames = append(toolNames, tc.ToolName)
		}

		records = append(records, TurnRecord{
			ConversationID:            conversationID,
			TurnIndex:                 len(records),
			TimeInCallSecs:            turn.TimeInCallSecs,
			Role:                      RoleAgent,
			ActiveNodeID:              nodeID,
			ActiveNode:                info.Label,
			ActiveLLM:                 info.LLMModel,
			LLMType:                   info.LLMType,
			LLMTTFBMs:                 metricMs(turn, MetricLLMTTFB),
			TTSTTFBMs:                 metricMs(turn, MetricTTSTTFB),
			TTFFirstSentenceMs:        metricMs(turn, MetricLLMTTFSentence),
			ResponseLatencySecsCoarse: coarseResponseLatency(cleaned, idx),
			TurnDurationMs:            turnDuration(cleaned, idx),
			ResponseWordCount:         len(strings.Fields(turn.Message)),
			ResponseCharCount:         utf8.RuneCountInString(turn.Message),
			HasToolCalls:              len(turn.ToolCalls) > 0,
			ToolNames:                 toolNames,
			Interrupted:               turn.Interrupted,
			NodeAttributionMethod:     AttributionMethodNode,
		})
	}
	return records
}

func workflowNodeID(t RawTurn) string {
	if t.AgentMetadata == nil || t.AgentMetadata.WorkflowNodeID == "" {
		return nodes.Unknown
	}
	return t.AgentMetadata.WorkflowNodeID
}

// metricMs converts a metric's elapsed seconds to milliseconds, rounding half
// to even. A
// missing metric or a metric without elapsed_time yields nil.
func metricMs(t RawTurn, name string) *int64 {
	if t.ConversationTurnMetrics == nil {
		return nil
	}
	m := t.ConversationTurnMetrics.Metrics[name]
	if m == nil || m.ElapsedTime == nil {
		return nil
	}
	v := int64(math.RoundToEven(*m.ElapsedTime * 1000))
	return &v
}

// coarseResponseLatency is the whole-second gap back to the nearest preceding
// user turn.
func coarseResponseLatency(turns []RawTurn, idx int) *int {
	for i := idx - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			gap := turns[idx].TimeInCallSecs - turns[i].TimeInCallSecs
			return &gap
		}
	}
	return nil
}

// turnDuration is the gap to the next turn of any role with a strictly later
// timestamp.
func turnDuration(turns []RawTurn, idx int) *int64 {
	at := turns[idx].TimeInCallSecs
	for i := idx + 1; i < len(turns); i++ {
		if next := turns[i].TimeInCallSecs; next > at {
			ms := int64(next-at) * 1000
			return &ms
		}
	}
	return nil
}
