package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/convai/agents/agent_1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "k" {
			http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"conversation_config":{"agent":{"prompt":{"llm":"gpt-4o"}}},
			"workflow":{"nodes":{"n1":{"type":"override_agent","label":"One"}}}}`))
	})
	mux.HandleFunc("/v1/convai/conversations", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "agent_1", q.Get("agent_id"))
		assert.Equal(t, "2", q.Get("page_size"))
		if q.Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"c1","call_duration_secs":400,"start_time_unix_secs":1700000000,"status":"done","message_count":12}],"has_more":true,"next_cursor":"p2"}`))
			return
		}
		assert.Equal(t, "p2", q.Get("cursor"))
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"c2","call_duration_secs":20}],"has_more":false}`))
	})
	mux.HandleFunc("/v1/convai/conversations/c1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id":"c1","transcript":[{"role":"user","time_in_call_secs":0,"message":"hi"},{"role":"agent","time_in_call_secs":2,"message":"hello"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAgentConfig(t *testing.T) {
	srv := newServer(t)
	h := NewHTTP(srv.URL+"/v1/convai/", "k", time.Second)

	doc, err := h.AgentConfig(context.Background(), "agent_1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", doc.RootLLM())
	assert.Equal(t, "One", doc.Workflow.Nodes["n1"].Label)

	_, err = NewHTTP(srv.URL+"/v1/convai", "wrong", time.Second).AgentConfig(context.Background(), "agent_1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Error(), "unauthorized")
}

func TestHTTPListConversationsPaginates(t *testing.T) {
	srv := newServer(t)
	h := NewHTTP(srv.URL+"/v1/convai", "k", time.Second)

	p1, err := h.ListConversations(context.Background(), "agent_1", "", 2)
	require.NoError(t, err)
	require.Len(t, p1.Conversations, 1)
	assert.True(t, p1.HasMore)
	assert.Equal(t, "p2", p1.NextCursor)
	assert.Equal(t, int64(1700000000), *p1.Conversations[0].StartTimeUnixSecs)

	p2, err := h.ListConversations(context.Background(), "agent_1", p1.NextCursor, 2)
	require.NoError(t, err)
	assert.False(t, p2.HasMore)
	assert.Equal(t, "c2", p2.Conversations[0].ConversationID)
	assert.Nil(t, p2.Conversations[0].StartTimeUnixSecs)
}

func TestHTTPConversation(t *testing.T) {
	srv := newServer(t)
	h := NewHTTP(srv.URL+"/v1/convai", "k", time.Second)

	d, err := h.Conversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, d.Transcript, 2)

	_, err = h.Conversation(context.Background(), "missing")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestHTTPContextCancelled(t *testing.T) {
	srv := newServer(t)
	h := NewHTTP(srv.URL+"/v1/convai", "k", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Conversation(ctx, "c1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conversations"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "agent.json"), []byte(`{"conversation_config":{"agent":{"prompt":{"llm":"m"}}}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conversations.json"), []byte(`{"conversations":[{"conversation_id":"c1","call_duration_secs":301}],"has_more":true,"next_cursor":"x"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conversations", "c1.json"), []byte(`{"transcript":[{"role":"agent","time_in_call_secs":1,"message":"a"}]}`), 0o644))

	d := NewDir(root)
	ctx := context.Background()

	doc, err := d.AgentConfig(ctx, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "m", doc.RootLLM())

	page, err := d.ListConversations(ctx, "ignored", "", 100)
	require.NoError(t, err)
	assert.False(t, page.HasMore, "a directory is always a single page")
	assert.Empty(t, page.NextCursor)
	assert.Len(t, page.Conversations, 1)

	det, err := d.Conversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, det.Transcript, 1)

	_, err = d.Conversation(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}
