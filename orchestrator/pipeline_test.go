package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convai-tools/latency-pipeline/clients"
	cfg "github.com/convai-tools/latency-pipeline/config"
	"github.com/convai-tools/latency-pipeline/nodes"
	"github.com/convai-tools/latency-pipeline/report"
)

type fakeSource struct {
	doc     *nodes.AgentConfig
	docErr  error
	pages   map[string]*clients.ConversationPage
	details map[string]string
	delay   map[string]time.Duration

	mu      sync.Mutex
	cursors []string
}

func (f *fakeSource) AgentConfig(_ context.Context, _ string) (*nodes.AgentConfig, error) {
	return f.doc, f.docErr
}

func (f *fakeSource) ListConversations(_ context.Context, _, cursor string, _ int) (*clients.ConversationPage, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	f.mu.Unlock()
	page, ok := f.pages[cursor]
	if !ok {
		return nil, errors.Errorf("no page for cursor %q", cursor)
	}
	return page, nil
}

func (f *fakeSource) Conversation(ctx context.Context, id string) (*clients.ConversationDetail, error) {
	if d := f.delay[id]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	body, ok := f.details[id]
	if !ok {
		return nil, errors.Wrap(clients.ErrNotFound, id)
	}
	var d clients.ConversationDetail
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

type fakeRecorder struct {
	saved []*report.Bundle
}

func (r *fakeRecorder) SaveBundle(_ context.Context, b *report.Bundle) error {
	r.saved = append(r.saved, b)
	return nil
}

func newSource() *fakeSource {
	return &fakeSource{
		doc: &nodes.AgentConfig{
			ConversationConfig: &nodes.ConversationConfig{Agent: &nodes.Agent{Prompt: &nodes.Prompt{LLM: "gemini-2.0-flash"}}},
			Workflow: &nodes.Workflow{Nodes: map[string]nodes.Node{
				"start": {Type: "start"},
				"n1": {Type: "override_agent", Label: "Greeting", Config: &nodes.NodeConfig{
					Agent: &nodes.Agent{Prompt: &nodes.Prompt{LLM: "gpt-4o-mini"}},
				}},
			}},
		},
		pages: map[string]*clients.ConversationPage{
			"": {Conversations: []clients.ConversationSummary{
				{ConversationID: "c1", CallDurationSecs: 400},
				{ConversationID: "short", CallDurationSecs: 100},
				{ConversationID: "c2", CallDurationSecs: 320},
			}, HasMore: true, NextCursor: "p2"},
			"p2": {Conversations: []clients.ConversationSummary{
				{ConversationID: "c3", CallDurationSecs: 500},
				{ConversationID: "c4", CallDurationSecs: 600},
			}},
		},
		details: map[string]string{
			"c1": `{"conversation_id":"c1","transcript":[
				{"role":"user","time_in_call_secs":0,"message":"hi"},
				{"role":"agent","time_in_call_secs":2,"message":"hello there",
				 "agent_metadata":{"workflow_node_id":"n1"},
				 "conversation_turn_metrics":{"metrics":{"convai_llm_service_ttfb":{"elapsed_time":0.5}}}},
				"not a turn"]}`,
			"c3": `{"conversation_id":"c3","transcript":[
				{"role":"agent","time_in_call_secs":1,"message":"ok","tool_calls":[{"tool_name":"lookup"}],
				 "agent_metadata":{"workflow_node_id":"gone"},
				 "conversation_turn_metrics":{"metrics":{"convai_llm_service_ttfb":{"elapsed_time":3.5}}}}]}`,
		},
		delay: map[string]time.Duration{"c1": 30 * time.Millisecond},
	}
}

func newConfig(t *testing.T) *cfg.Root {
	t.Helper()
	c := cfg.Default()
	c.Agent.ID = "agent_1"
	c.Selection.MaxConversations = 3
	c.Analysis.Date = "2026-03-01"
	c.Paths.Outputs = t.TempDir()
	return c
}

func quietLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func TestAnalyze(t *testing.T) {
	src := newSource()
	p := NewPipeline(newConfig(t), src, quietLog())

	b, err := p.Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", "p2"}, src.cursors)
	assert.Equal(t, "gemini-2.0-flash", b.RootLLM)
	assert.Equal(t, "2026-03-01", b.AnalysisDate)
	assert.NotEmpty(t, b.RunID)

	require.Len(t, b.Conversations, 2, "c2 fails to fetch and is skipped")
	assert.Equal(t, "c1", b.Conversations[0].ConversationID)
	assert.Equal(t, "c3", b.Conversations[1].ConversationID)
	assert.Equal(t, 2, b.ConversationsAnalyzed)

	require.Len(t, b.Turns, 2)
	first := b.Turns[0]
	assert.Equal(t, "c1", first.ConversationID, "records keep list order even when fetches finish out of order")
	assert.Equal(t, "Greeting", first.ActiveNode)
	assert.Equal(t, "gpt-4o-mini", first.ActiveLLM)
	assert.Equal(t, int64(500), *first.LLMTTFBMs)
	assert.Equal(t, 2, *first.ResponseLatencySecsCoarse)

	second := b.Turns[1]
	assert.Equal(t, "unknown:gone", second.ActiveNode)
	assert.Equal(t, "gemini-2.0-flash", second.ActiveLLM)
	assert.Equal(t, []string{"lookup"}, second.ToolNames)

	assert.Equal(t, 2, b.Summary.TotalTurns)
	require.Len(t, b.Summary.Outliers, 1)
	assert.Equal(t, "c3", b.Summary.Outliers[0].ConversationID)

	require.Len(t, b.Warnings, 2)
	assert.Contains(t, b.Warnings[0], "conversation c2")
	assert.Contains(t, b.Warnings[1], "conversation c1: transcript entry 2")
}

func TestAnalyzeDefaultsDateToToday(t *testing.T) {
	c := newConfig(t)
	c.Analysis.Date = ""
	p := NewPipeline(c, newSource(), quietLog())
	p.now = func() time.Time { return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC) }

	b, err := p.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-04-02", b.AnalysisDate)
}

func TestAnalyzeAgentConfigError(t *testing.T) {
	src := newSource()
	src.docErr = errors.New("boom")
	_, err := NewPipeline(newConfig(t), src, quietLog()).Analyze(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent config agent_1")
}

func TestAnalyzeListError(t *testing.T) {
	src := newSource()
	delete(src.pages, "p2")
	_, err := NewPipeline(newConfig(t), src, quietLog()).Analyze(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list conversations page 2")
}

func TestSelectConversations(t *testing.T) {
	t.Run("stops at the maximum", func(t *testing.T) {
		c := newConfig(t)
		c.Selection.MaxConversations = 1
		src := newSource()
		got, err := NewPipeline(c, src, quietLog()).selectConversations(context.Background(), "agent_1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c1", got[0].ConversationID)
		assert.Equal(t, []string{""}, src.cursors)
	})

	t.Run("duration threshold is inclusive", func(t *testing.T) {
		c := newConfig(t)
		c.Selection.MinDurationSecs = 320
		c.Selection.MaxConversations = 10
		got, err := NewPipeline(c, newSource(), quietLog()).selectConversations(context.Background(), "agent_1")
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, g := range got {
			ids = append(ids, g.ConversationID)
		}
		assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, ids)
	})

	t.Run("repeated cursor ends the walk", func(t *testing.T) {
		c := newConfig(t)
		c.Selection.MaxConversations = 10
		src := newSource()
		src.pages["p2"] = &clients.ConversationPage{HasMore: true, NextCursor: "p2"}
		got, err := NewPipeline(c, src, quietLog()).selectConversations(context.Background(), "agent_1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, []string{"", "p2"}, src.cursors)
	})
}

func TestFetchDetailsCancelled(t *testing.T) {
	src := newSource()
	src.delay["c1"] = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewPipeline(newConfig(t), src, quietLog()).Analyze(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunWritesRunDir(t *testing.T) {
	c := newConfig(t)
	rec := &fakeRecorder{}
	p := NewPipeline(c, newSource(), quietLog()).WithRecorder(rec)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC) }

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(c.Paths.Outputs, "run_20260301-140509"), res.RunDir)
	assert.FileExists(t, res.RawPath)
	assert.FileExists(t, res.SummaryPath)

	got, err := report.ReadBundle(res.RawPath)
	require.NoError(t, err)
	assert.Equal(t, res.Bundle.RunID, got.RunID)
	assert.Len(t, got.Turns, 2)

	md, err := os.ReadFile(res.SummaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Conversational Latency Report")
	assert.Contains(t, string(md), "| `c1` |")

	require.Len(t, rec.saved, 1)
	assert.Same(t, res.Bundle, rec.saved[0])
}

func TestRunWithDirSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conversations"), 0o755))
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	write("agent.json", `{"conversation_config":{"agent":{"prompt":{"llm":"claude-sonnet-4-5"}}}}`)
	write("conversations.json", `{"conversations":[{"conversation_id":"d1","call_duration_secs":310}]}`)
	write(filepath.Join("conversations", "d1.json"), `{"transcript":[
		{"role":"user","time_in_call_secs":0,"message":"hello"},
		{"role":"agent","time_in_call_secs":4,"message":"hi, how can I help?"},
		{"role":"agent","time_in_call_secs":4,"message":""}]}`)

	c := newConfig(t)
	res, err := NewPipeline(c, clients.NewDir(root), quietLog()).Run(context.Background())
	require.NoError(t, err)

	b := res.Bundle
	require.Len(t, b.Turns, 1)
	assert.Equal(t, "unknown", b.Turns[0].ActiveNodeID)
	assert.Equal(t, "claude-sonnet-4-5", b.Turns[0].ActiveLLM)
	assert.Equal(t, 4, *b.Turns[0].ResponseLatencySecsCoarse)
	assert.Empty(t, b.Warnings)
}

func TestAnalyzeKeepsTurnsWithMalformedFields(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conversations"), 0o755))
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	write("agent.json", `{"conversation_config":{"agent":{"prompt":{"llm":"gpt-4o"}}},
		"workflow":{"nodes":{"n1":{"type":"override_agent","label":"Main","config":{"agent":{"prompt":{"llm":7}}}}}}}`)
	write("conversations.json", `{"conversations":[{"conversation_id":"d1","call_duration_secs":310}]}`)
	write(filepath.Join("conversations", "d1.json"), `{"transcript":[
		{"role":"user","time_in_call_secs":0,"message":"hi"},
		{"role":"agent","time_in_call_secs":3,"message":"hello there","agent_metadata":{"workflow_node_id":"n1"},
		 "conversation_turn_metrics":{"metrics":{"convai_llm_service_ttfb":{"elapsed_time":"0.4"}}}},
		{"role":"agent","time_in_call_secs":5,"message":"ok","agent_metadata":{"workflow_node_id":42}},
		{"role":"user","time_in_call_secs":9,"message":"bye"}]}`)

	b, err := NewPipeline(newConfig(t), clients.NewDir(root), quietLog()).Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, b.Turns, 2)
	assert.Equal(t, "Main", b.Turns[0].ActiveNode)
	assert.Equal(t, "gpt-4o", b.Turns[0].ActiveLLM, "a malformed override inherits the root model")
	assert.Nil(t, b.Turns[0].LLMTTFBMs)
	assert.Equal(t, "unknown:unknown", b.Turns[1].ActiveNode)
	assert.Equal(t, 1, b.Summary.UnattributedTurns)

	require.Len(t, b.Warnings, 3)
	assert.Contains(t, b.Warnings[0], "agent config: field workflow.nodes.n1.config.agent.prompt.llm")
	assert.Contains(t, b.Warnings[1], "conversation d1: transcript entry 1")
	assert.Contains(t, b.Warnings[2], "conversation d1: transcript entry 2")
}
