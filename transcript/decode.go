package transcript

import (
	"encoding/json"
	"strconv"

	"github.com/convai-tools/latency-pipeline/lenient"
)

// DecodeTurns decodes a transcript array one entry at a time. An entry that
// is not a JSON object is dropped. A field of the wrong type is left at its
// zero or nil value and the turn is kept. Both are reported as warnings.
func DecodeTurns(raw []json.RawMessage) ([]RawTurn, []error) {
	turns := make([]RawTurn, 0, len(raw))
	var warnings []error
	for i, r := range raw {
		t, err := decodeTurn(r, "transcript entry "+strconv.Itoa(i), &warnings)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, warnings
}

func decodeTurn(raw json.RawMessage, where string, warns *[]error) (RawTurn, error) {
	o, err := lenient.Decode(raw, where, warns)
	if err != nil {
		return RawTurn{}, err
	}

	var t RawTurn
	o.Field("role", &t.Role)
	var secs float64
	if o.Field("time_in_call_secs", &secs) {
		t.TimeInCallSecs = int(secs)
	}
	o.Field("message", &t.Message)
	o.Field("interrupted", &t.Interrupted)

	for _, call := range o.Items("tool_calls") {
		var tc ToolCall
		call.Field("tool_name", &tc.ToolName)
		t.ToolCalls = append(t.ToolCalls, tc)
	}

	if meta, ok := o.Object("agent_metadata"); ok {
		t.AgentMetadata = &AgentMetadata{}
		meta.Field("workflow_node_id", &t.AgentMetadata.WorkflowNodeID)
	}

	if tm, ok := o.Object("conversation_turn_metrics"); ok {
		t.ConversationTurnMetrics = &TurnMetrics{}
		if metrics, ok := tm.Objects("metrics"); ok {
			t.ConversationTurnMetrics.Metrics = make(map[string]*Metric, len(metrics))
			for name, mo := range metrics {
				m := &Metric{}
				var elapsed float64
				if mo.Field("elapsed_time", &elapsed) {
					m.ElapsedTime = &elapsed
				}
				t.ConversationTurnMetrics.Metrics[name] = m
			}
		}
	}
	return t, nil
}
