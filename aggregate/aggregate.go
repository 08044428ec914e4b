package aggregate

import (
	"sort"

	"github.com/convai-tools/latency-pipeline/nodes"
	"github.com/convai-tools/latency-pipeline/stats"
	"github.com/convai-tools/latency-pipeline/transcript"
)

const DefaultOutlierThresholdMs = 3000

type Options struct {
	// OutlierThresholdMs selects turns whose LLM TTFB is strictly above it.
	OutlierThresholdMs float64
}

func DefaultOptions() Options {
	return Options{OutlierThresholdMs: DefaultOutlierThresholdMs}
}

type NodeGroup struct {
	Node           string        `json:"node"`
	LLM            string        `json:"llm"`
	Turns          int           `json:"turns"`
	TurnPct        int           `json:"turn_pct"`
	Interrupted    int           `json:"interrupted"`
	InterruptedPct int           `json:"interrupted_pct"`
	LLMTTFB        stats.Summary `json:"llm_ttfb_ms"`
}

type ModelGroup struct {
	LLM     string        `json:"llm"`
	LLMType string        `json:"llm_type"`
	Turns   int           `json:"turns"`
	Nodes   []string      `json:"nodes"`
	LLMTTFB stats.Summary `json:"llm_ttfb_ms"`
}

type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	Pct   int    `json:"pct"`
}

type ToolCount struct {
	Tool  string `json:"tool"`
	Calls int    `json:"calls"`
}

type ToolUsage struct {
	TurnsWithTools int         `json:"turns_with_tools"`
	Pct            int         `json:"pct"`
	Counts         []ToolCount `json:"counts"`
}

type ConversationCount struct {
	ConversationID string `json:"conversation_id"`
	Turns          int    `json:"turns"`
}

// Report holds every grouped view of one run's turn records.
type Report struct {
	TotalTurns         int                     `json:"total_turns"`
	TurnsWithLLMTTFB   int                     `json:"turns_with_llm_ttfb"`
	LLMTTFBCoveragePct int                     `json:"llm_ttfb_coverage_pct"`
	UnattributedTurns  int                     `json:"unattributed_turns"`
	UnattributedPct    int                     `json:"unattributed_pct"`
	LLMTTFB            stats.Summary           `json:"llm_ttfb_ms"`
	TTSTTFB            stats.Summary           `json:"tts_ttfb_ms"`
	TTFSentence        stats.Summary           `json:"ttf_first_sentence_ms"`
	CoarseLatencyMs    stats.Summary           `json:"response_latency_coarse_ms"`
	ByNode             []NodeGroup             `json:"by_node"`
	ByModel            []ModelGroup            `json:"by_model"`
	Buckets            []Bucket                `json:"llm_ttfb_buckets"`
	OutlierThresholdMs float64                 `json:"outlier_threshold_ms"`
	Outliers           []transcript.TurnRecord `json:"outliers"`
	Tools              ToolUsage               `json:"tools"`
	Conversations      []ConversationCount     `json:"conversations"`
}

// Aggregate groups records by node, by model and into LLM TTFB buckets, and
// lists the outliers above opts.OutlierThresholdMs. Records without an LLM
// TTFB count toward turn totals but not toward any distribution.
func Aggregate(records []transcript.TurnRecord, opts Options) Report {
	llm := llmTTFBs(records)
	unattributed := Unattributed(records)
	return Report{
		TotalTurns:         len(records),
		TurnsWithLLMTTFB:   len(llm),
		LLMTTFBCoveragePct: stats.Percent(len(llm), len(records)),
		UnattributedTurns:  unattributed,
		UnattributedPct:    stats.Percent(unattributed, len(records)),
		LLMTTFB:            stats.Summarize(llm),
		TTSTTFB:            stats.Summarize(collect(records, func(t transcript.TurnRecord) *int64 { return t.TTSTTFBMs })),
		TTFSentence:        stats.Summarize(collect(records, func(t transcript.TurnRecord) *int64 { return t.TTFFirstSentenceMs })),
		CoarseLatencyMs:    stats.Summarize(coarseMs(records)),
		ByNode:             ByNode(records),
		ByModel:            ByModel(records),
		Buckets:            Buckets(llm),
		OutlierThresholdMs: opts.OutlierThresholdMs,
		Outliers:           Outliers(records, opts.OutlierThresholdMs),
		Tools:              Tools(records),
		Conversations:      Conversations(records),
	}
}

// group keeps records per key in first-appearance order.
type group struct {
	key     string
	records []transcript.TurnRecord
}

func groupBy(records []transcript.TurnRecord, key func(transcript.TurnRecord) string) []*group {
	index := map[string]*group{}
	var out []*group
	for _, rec := range records {
		k := key(rec)
		g, ok := index[k]
		if !ok {
			g = &group{key: k}
			index[k] = g
			out = append(out, g)
		}
		g.records = append(g.records, rec)
	}
	// largest first, first appearance on ties
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].records) > len(out[j].records) })
	return out
}

func ByNode(records []transcript.TurnRecord) []NodeGroup {
	groups := groupBy(records, func(t transcript.TurnRecord) string { return t.ActiveNode })
	out := make([]NodeGroup, 0, len(groups))
	for _, g := range groups {
		interrupted := 0
		for _, rec := range g.records {
			if rec.Interrupted {
				interrupted++
			}
		}
		out = append(out, NodeGroup{
			Node:           g.key,
			LLM:            g.records[0].ActiveLLM,
			Turns:          len(g.records),
			TurnPct:        stats.Percent(len(g.records), len(records)),
			Interrupted:    interrupted,
			InterruptedPct: stats.Percent(interrupted, len(g.records)),
			LLMTTFB:        stats.Summarize(llmTTFBs(g.records)),
		})
	}
	return out
}

func ByModel(records []transcript.TurnRecord) []ModelGroup {
	groups := groupBy(records, func(t transcript.TurnRecord) string { return t.ActiveLLM })
	out := make([]ModelGroup, 0, len(groups))
	for _, g := range groups {
		seen := map[string]bool{}
		nodes := []string{}
		for _, rec := range g.records {
			if !seen[rec.ActiveNode] {
				seen[rec.ActiveNode] = true
				nodes = append(nodes, rec.ActiveNode)
			}
		}
		sort.Strings(nodes)
		out = append(out, ModelGroup{
			LLM:     g.key,
			LLMType: g.records[0].LLMType,
			Turns:   len(g.records),
			Nodes:   nodes,
			LLMTTFB: stats.Summarize(llmTTFBs(g.records)),
		})
	}
	return out
}

var bucketBounds = []struct {
	label string
	upper float64 // exclusive
}{
	{"<500ms", 500},
	{"500-999ms", 1000},
	{"1000-1999ms", 2000},
	{"2000-2999ms", 3000},
	{"3000-4999ms", 5000},
	{"≥5000ms", 0},
}

// Buckets counts values into fixed half-open latency ranges. Every bucket is
// present, in ascending order, even when empty.
func Buckets(values []float64) []Bucket {
	out := make([]Bucket, len(bucketBounds))
	for i, b := range bucketBounds {
		out[i].Label = b.label
	}
	last := len(bucketBounds) - 1
	for _, v := range values {
		i := 0
		for i < last && v >= bucketBounds[i].upper {
			i++
		}
		out[i].Count++
	}
	for i := range out {
		out[i].Pct = stats.Percent(out[i].Count, len(values))
	}
	return out
}

// Outliers returns records with an LLM TTFB above thresholdMs, slowest first.
func Outliers(records []transcript.TurnRecord, thresholdMs float64) []transcript.TurnRecord {
	out := []transcript.TurnRecord{}
	for _, rec := range records {
		if rec.LLMTTFBMs != nil && float64(*rec.LLMTTFBMs) > thresholdMs {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].LLMTTFBMs > *out[j].LLMTTFBMs })
	return out
}

func Tools(records []transcript.TurnRecord) ToolUsage {
	u := ToolUsage{Counts: []ToolCount{}}
	index := map[string]int{}
	for _, rec := range records {
		if !rec.HasToolCalls {
			continue
		}
		u.TurnsWithTools++
		for _, name := range rec.ToolNames {
			i, ok := index[name]
			if !ok {
				i = len(u.Counts)
				index[name] = i
				u.Counts = append(u.Counts, ToolCount{Tool: name})
			}
			u.Counts[i].Calls++
		}
	}
	u.Pct = stats.Percent(u.TurnsWithTools, len(records))
	sort.SliceStable(u.Counts, func(i, j int) bool { return u.Counts[i].Calls > u.Counts[j].Calls })
	return u
}

// Unattributed counts records whose node id was missing from the node map.
func Unattributed(records []transcript.TurnRecord) int {
	n := 0
	for _, rec := range records {
		if nodes.IsUnattributed(rec.ActiveNode) {
			n++
		}
	}
	return n
}

// TurnsByConversation indexes Conversations by conversation id.
func (r Report) TurnsByConversation() map[string]int {
	out := make(map[string]int, len(r.Conversations))
	for _, c := range r.Conversations {
		out[c.ConversationID] = c.Turns
	}
	return out
}

// Conversations counts records per conversation in input order.
func Conversations(records []transcript.TurnRecord) []ConversationCount {
	out := []ConversationCount{}
	index := map[string]int{}
	for _, rec := range records {
		i, ok := index[rec.ConversationID]
		if !ok {
			i = len(out)
			index[rec.ConversationID] = i
			out = append(out, ConversationCount{ConversationID: rec.ConversationID})
		}
		out[i].Turns++
	}
	return out
}

func llmTTFBs(records []transcript.TurnRecord) []float64 {
	return collect(records, func(t transcript.TurnRecord) *int64 { return t.LLMTTFBMs })
}

func collect(records []transcript.TurnRecord, field func(transcript.TurnRecord) *int64) []float64 {
	out := make([]float64, 0, len(records))
	for _, rec := range records {
		if v := field(rec); v != nil {
			out = append(out, float64(*v))
		}
	}
	return out
}

func coarseMs(records []transcript.TurnRecord) []float64 {
	out := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.ResponseLatencySecsCoarse != nil {
			out = append(out, float64(*rec.ResponseLatencySecsCoarse)*1000)
		}
	}
	return out
}
