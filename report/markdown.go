package report

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"

	"github.com/convai-tools/latency-pipeline/clients"
	"github.com/convai-tools/latency-pipeline/stats"
)

const summaryTemplate = `# Conversational Latency Report

- **Analysis date:** {{ .AnalysisDate }}
- **Agent:** ` + "`{{ .AgentID }}`" + `
- **Root LLM:** ` + "`{{ .RootLLM }}`" + `
- **Conversations analyzed:** {{ .ConversationsAnalyzed }} (minimum duration {{ .MinDurationSecs }}s)
- **Run:** {{ .RunID }}

## Data Schema Notes

- **Primary latency metric:** ` + "`convai_llm_service_ttfb`" + `, LLM time-to-first-byte (float seconds, high precision). This measures the LLM inference component only.
- **Coarse response latency:** time from the preceding user turn to this agent turn, derived from ` + "`time_in_call_secs`" + ` (whole seconds only). Use for rough user-perceived latency.
- **Node attribution:** ` + "`workflow_node_id`" + ` from each agent turn's ` + "`agent_metadata`" + `. Unmapped ids appear as ` + "`unknown:<id>`" + ` and inherit the root LLM.
- **Deduplication:** agent turns sharing a timestamp are collapsed to one, preferring speech over tool-only over empty turns.

## Conversations Analyzed

| conversation_id | start_time (UTC) | duration | turns_analyzed | status |
|---|---|---|---|---|
{{- range .Conversations }}
| ` + "`{{ .ConversationID }}`" + ` | {{ utc .StartTimeUnixSecs }} | {{ callDuration .CallDurationSecs }} | {{ index $.TurnCounts .ConversationID }} | {{ .Status | default "unknown" }} |
{{- end }}

## Overall Statistics

- **Total agent turns analyzed:** {{ .Summary.TotalTurns }}
- **Turns with LLM TTFB data:** {{ .Summary.TurnsWithLLMTTFB }} ({{ .Summary.LLMTTFBCoveragePct }}%)
- **Turns on unmapped nodes:** {{ .Summary.UnattributedTurns }} ({{ .Summary.UnattributedPct }}%)
- **Average conversation duration:** {{ avgMinutes .Conversations }} minutes
{{ with .Summary.LLMTTFB }}{{ if .Count }}
**LLM TTFB (ms), global:**

| Mean | Median | Min | Max | P75 | P95 |
|---|---|---|---|---|---|
| {{ stat .Mean }} | {{ stat .Median }} | {{ stat .Min }} | {{ stat .Max }} | {{ stat .P75 }} | {{ stat .P95 }} |
{{ end }}{{ end }}
## Per-Node Breakdown

*Latency = LLM TTFB in ms (high precision).*

| Node | LLM | Turns | Mean TTFB | Median | Min | Max | P95 | Interrupted% |
|---|---|---|---|---|---|---|---|---|
{{- range .Summary.ByNode }}
| {{ .Node }} | ` + "`{{ .LLM }}`" + ` | {{ .Turns }} | {{ stat .LLMTTFB.Mean }} | {{ stat .LLMTTFB.Median }} | {{ stat .LLMTTFB.Min }} | {{ stat .LLMTTFB.Max }} | {{ stat .LLMTTFB.P95 }} | {{ .InterruptedPct }}% |
{{- end }}

## Per-LLM Breakdown

| LLM Model | Type | Turns | Mean TTFB | Median | Min | Max | P95 | Nodes Using |
|---|---|---|---|---|---|---|---|---|
{{- range .Summary.ByModel }}
| ` + "`{{ .LLM }}`" + ` | {{ .LLMType }} | {{ .Turns }} | {{ stat .LLMTTFB.Mean }} | {{ stat .LLMTTFB.Median }} | {{ stat .LLMTTFB.Min }} | {{ stat .LLMTTFB.Max }} | {{ stat .LLMTTFB.P95 }} | {{ nodesUsing .Nodes }} |
{{- end }}

## Turn Distribution by Node

| Node | Turns | % of Total |
|---|---|---|
{{- range .Summary.ByNode }}
| {{ .Node }} | {{ .Turns }} | {{ .TurnPct }}% |
{{- end }}

## LLM TTFB Distribution (Histogram)

*LLM TTFB buckets across all turns with data.*

| Bucket | Count | % |
|---|---|---|
{{- range .Summary.Buckets }}
| {{ .Label }} | {{ .Count }} | {{ .Pct }}% |
{{- end }}

## Outlier Turns (LLM TTFB > {{ threshold .Summary.OutlierThresholdMs }}ms)

**{{ len .Summary.Outliers }} outlier turns found.**
{{ if .Summary.Outliers }}
| conversation_id | turn_index | t (secs) | Node | LLM TTFB (ms) | Words | Interrupted |
|---|---|---|---|---|---|---|
{{- range .Summary.Outliers }}
| ` + "`{{ trunc 30 .ConversationID }}`" + ` | {{ .TurnIndex }} | {{ .TimeInCallSecs }}s | {{ .ActiveNode }} | **{{ deref .LLMTTFBMs }}** | {{ .ResponseWordCount }} | {{ .Interrupted }} |
{{- end }}
{{ end }}
## Tool Call Analysis

- **Turns with tool calls:** {{ .Summary.Tools.TurnsWithTools }} / {{ .Summary.TotalTurns }} ({{ .Summary.Tools.Pct }}%)
{{ if .Summary.Tools.Counts }}
| Tool | Call count |
|---|---|
{{- range .Summary.Tools.Counts }}
| ` + "`{{ .Tool }}`" + ` | {{ .Calls }} |
{{- end }}
{{ end }}
## TTS TTFB Statistics

*Turns with TTS TTFB data: {{ .Summary.TTSTTFB.Count }}*
{{ with .Summary.TTSTTFB }}{{ if .Count }}
| Mean | Median | Min | Max | P95 |
|---|---|---|---|---|
| {{ stat .Mean }} | {{ stat .Median }} | {{ stat .Min }} | {{ stat .Max }} | {{ stat .P95 }} |
{{ end }}{{ end }}
## Coarse Response Latency

*Whole-second gap from the preceding user turn, in ms. Turns with data: {{ .Summary.CoarseLatencyMs.Count }}*
{{ with .Summary.CoarseLatencyMs }}{{ if .Count }}
| Mean | Median | Min | Max | P75 | P95 |
|---|---|---|---|---|---|
| {{ stat .Mean }} | {{ stat .Median }} | {{ stat .Min }} | {{ stat .Max }} | {{ stat .P75 }} | {{ stat .P95 }} |
{{ end }}{{ end }}
{{- if .Warnings }}
## Warnings
{{ range .Warnings }}
- {{ . }}
{{- end }}
{{ end }}`

const maxNodesListed = 4

var funcs = template.FuncMap{
	"stat": func(v *float64) string {
		if v == nil {
			return "N/A"
		}
		return strconv.FormatFloat(*v, 'f', 1, 64)
	},
	"deref": func(v *int64) string {
		if v == nil {
			return "N/A"
		}
		return strconv.FormatInt(*v, 10)
	},
	"threshold": func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	},
	"utc": func(ts *int64) string {
		if ts == nil || *ts == 0 {
			return "?"
		}
		return time.Unix(*ts, 0).UTC().Format("2006-01-02 15:04")
	},
	"callDuration": func(secs int) string {
		return strconv.Itoa(secs/60) + "m " + strconv.Itoa(secs%60) + "s"
	},
	"nodesUsing": func(nodes []string) string {
		if len(nodes) > maxNodesListed {
			return strings.Join(nodes[:maxNodesListed], ", ") + "..."
		}
		return strings.Join(nodes, ", ")
	},
	"avgMinutes": func(convs []clients.ConversationSummary) string {
		if len(convs) == 0 {
			return "0"
		}
		total := 0
		for _, c := range convs {
			total += c.CallDurationSecs
		}
		mins := stats.Round1(float64(total) / float64(len(convs)) / 60)
		return strconv.FormatFloat(mins, 'f', -1, 64)
	},
}

var summaryTpl = template.Must(template.New("summary").
	Funcs(sprig.TxtFuncMap()).
	Funcs(funcs).
	Parse(summaryTemplate))

type summaryView struct {
	*Bundle
	TurnCounts map[string]int
}

// Markdown renders the human readable summary of a run.
func Markdown(b *Bundle) (string, error) {
	view := summaryView{Bundle: b, TurnCounts: b.Summary.TurnsByConversation()}
	var buf bytes.Buffer
	if err := summaryTpl.Execute(&buf, view); err != nil {
		return "", errors.Wrap(err, "render summary")
	}
	return buf.String(), nil
}
