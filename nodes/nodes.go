package nodes

import (
	"strings"
)

const (
	// Unknown is used for a missing root model or workflow node id.
	Unknown = "unknown"

	TypeNative    = "native"
	TypeCustomLLM = "custom-llm"

	startNodeType      = "start"
	unknownLabelPrefix = "unknown:"
	unknownLabelMaxLen = 20
)

// NodeInfo is the model assignment of one workflow node.
type NodeInfo struct {
	Label       string `json:"label"`
	LLMModel    string `json:"llm_model"`
	LLMType     string `json:"llm_type"`
	IsInherited bool   `json:"is_inherited"`
}

// Map is keyed by workflow node id. It is built once by Resolve and only read
// afterwards.
type Map map[string]NodeInfo

// AgentConfig mirrors the parts of the agent configuration document that carry
// model assignments. Every level is optional.
type AgentConfig struct {
	ConversationConfig *ConversationConfig `json:"conversation_config,omitempty"`
	Workflow           *Workflow           `json:"workflow,omitempty"`

	warnings []error
}

type ConversationConfig struct {
	Agent *Agent `json:"agent,omitempty"`
}

type Agent struct {
	Prompt *Prompt `json:"prompt,omitempty"`
}

type Prompt struct {
	LLM string `json:"llm,omitempty"`
}

type Workflow struct {
	Nodes map[string]Node `json:"nodes,omitempty"`
}

type Node struct {
	Type   string      `json:"type,omitempty"`
	Label  string      `json:"label,omitempty"`
	Config *NodeConfig `json:"config,omitempty"`
}

type NodeConfig struct {
	Agent *Agent `json:"agent,omitempty"`
}

// RootLLM returns the agent-level model or Unknown.
func (c *AgentConfig) RootLLM() string {
	if c == nil || c.ConversationConfig == nil {
		return Unknown
	}
	if llm := c.ConversationConfig.Agent.llm(); llm != "" {
		return llm
	}
	return Unknown
}

func (a *Agent) llm() string {
	if a == nil || a.Prompt == nil {
		return ""
	}
	return a.Prompt.LLM
}

func (n Node) override() string {
	if n.Config == nil {
		return ""
	}
	return n.Config.Agent.llm()
}

// Resolve builds the node map and returns it with the root model. Start nodes
// carry no model and are left out.
func Resolve(doc *AgentConfig) (Map, string) {
	root := doc.RootLLM()
	out := Map{}
	if doc == nil || doc.Workflow == nil {
		return out, root
	}
	for id, n := range doc.Workflow.Nodes {
		if n.Type == startNodeType {
			continue
		}
		label := n.Label
		if label == "" {
			label = id
		}
		model := n.override()
		inherited := model == ""
		if inherited {
			model = root
		}
		out[id] = NodeInfo{
			Label:       label,
			LLMModel:    model,
			LLMType:     LLMType(model),
			IsInherited: inherited,
		}
	}
	return out, root
}

// LLMType classifies a model string. Anything containing "http" is treated as
// a custom LLM endpoint, wherever the substring appears.
func LLMType(model string) string {
	if strings.Contains(model, "http") {
		return TypeCustomLLM
	}
	return TypeNative
}

// Lookup returns the node's info, or a synthesized entry labelled
// "unknown:<id prefix>" that inherits the root model.
func (m Map) Lookup(nodeID, rootLLM string) NodeInfo {
	if info, ok := m[nodeID]; ok {
		return info
	}
	short := nodeID
	if r := []rune(short); len(r) > unknownLabelMaxLen {
		short = string(r[:unknownLabelMaxLen])
	}
	return NodeInfo{
		Label:       unknownLabelPrefix + short,
		LLMModel:    rootLLM,
		LLMType:     TypeNative,
		IsInherited: true,
	}
}

// IsUnattributed reports whether a node label was synthesized by Lookup.
func IsUnattributed(label string) bool {
	return strings.HasPrefix(label, unknownLabelPrefix)
}
