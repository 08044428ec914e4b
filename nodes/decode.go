package nodes

import (
	"github.com/convai-tools/latency-pipeline/lenient"
)

// UnmarshalJSON decodes the document field by field. A field of the wrong type
// is left empty and recorded in Warnings; a node that is not an object is
// left out. Only a document that is not an object fails.
func (c *AgentConfig) UnmarshalJSON(data []byte) error {
	if lenient.IsNull(data) {
		return nil
	}
	var warns []error
	o, err := lenient.Decode(data, "agent config", &warns)
	if err != nil {
		return err
	}

	out := AgentConfig{}
	if cc, ok := o.Object("conversation_config"); ok {
		out.ConversationConfig = &ConversationConfig{Agent: decodeAgent(cc)}
	}
	if wf, ok := o.Object("workflow"); ok {
		out.Workflow = &Workflow{}
		if entries, ok := wf.Objects("nodes"); ok {
			out.Workflow.Nodes = make(map[string]Node, len(entries))
			for id, no := range entries {
				var n Node
				no.Field("type", &n.Type)
				no.Field("label", &n.Label)
				if nc, ok := no.Object("config"); ok {
					n.Config = &NodeConfig{Agent: decodeAgent(nc)}
				}
				out.Workflow.Nodes[id] = n
			}
		}
	}
	out.warnings = warns
	*c = out
	return nil
}

// Warnings lists the fields that were skipped while decoding.
func (c *AgentConfig) Warnings() []error {
	if c == nil {
		return nil
	}
	return c.warnings
}

func decodeAgent(parent lenient.Object) *Agent {
	ao, ok := parent.Object("agent")
	if !ok {
		return nil
	}
	a := &Agent{}
	if po, ok := ao.Object("prompt"); ok {
		a.Prompt = &Prompt{}
		po.Field("llm", &a.Prompt.LLM)
	}
	return a
}
