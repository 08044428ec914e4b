package transcript

import "strings"

// Priority ranks the content of an agent turn for deduplication.
type Priority int

const (
	PriorityEmpty Priority = iota + 1
	PriorityToolOnly
	PrioritySpeech
)

func (p Priority) String() string {
	switch p {
	case PrioritySpeech:
		return "speech"
	case PriorityToolOnly:
		return "tool_only"
	case PriorityEmpty:
		return "empty"
	}
	return "invalid"
}

// ContentPriority returns speech for a non-blank message, tool_only for a
// blank message with tool calls and empty otherwise.
func ContentPriority(t RawTurn) Priority {
	if strings.TrimSpace(t.Message) != "" {
		return PrioritySpeech
	}
	if len(t.ToolCalls) > 0 {
		return PriorityToolOnly
	}
	return PriorityEmpty
}

// Dedup collapses every maximal run of consecutive agent turns that share
// time_in_call_secs into its highest priority member, the earliest one on
// ties. User turns are copied through and never start or join a run.
func Dedup(turns []RawTurn) []RawTurn {
	out := make([]RawTurn, 0, len(turns))
	for i := 0; i < len(turns); {
		t := turns[i]
		if t.Role != RoleAgent {
			out = append(out, t)
			i++
			continue
		}

		best, bestPrio := i, ContentPriority(t)
		j := i + 1
		for ; j < len(turns) && turns[j].Role == RoleAgent && turns[j].TimeInCallSecs == t.TimeInCallSecs; j++ {
			if p := ContentPriority(turns[j]); p > bestPrio {
				best, bestPrio = j, p
			}
		}
		out = append(out, turns[best])
		i = j
	}
	return out
}
