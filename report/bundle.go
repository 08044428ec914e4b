package report

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/convai-tools/latency-pipeline/aggregate"
	"github.com/convai-tools/latency-pipeline/clients"
	"github.com/convai-tools/latency-pipeline/nodes"
	"github.com/convai-tools/latency-pipeline/transcript"
)

// Bundle is everything one analysis run produced. It is written as
// latency_raw.json and is the input of the Markdown summary.
type Bundle struct {
	RunID                 string                        `json:"run_id"`
	AgentID               string                        `json:"agent_id"`
	AnalysisDate          string                        `json:"analysis_date"`
	GeneratedAt           time.Time                     `json:"generated_at"`
	RootLLM               string                        `json:"root_llm"`
	MinDurationSecs       int                           `json:"min_duration_secs"`
	ConversationsAnalyzed int                           `json:"conversations_analyzed"`
	TotalAgentTurns       int                           `json:"total_agent_turns"`
	NodeLLMMap            nodes.Map                     `json:"node_llm_map"`
	Conversations         []clients.ConversationSummary `json:"conversations"`
	Turns                 []transcript.TurnRecord       `json:"turns"`
	Summary               aggregate.Report              `json:"summary"`
	Warnings              []string                      `json:"warnings,omitempty"`
}

func WriteJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return nil
}

func ReadBundle(path string) (*Bundle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var out Bundle
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &out, nil
}
