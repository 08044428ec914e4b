package clients

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/convai-tools/latency-pipeline/nodes"
)

var ErrNotFound = errors.New("not found")

// Dir serves previously downloaded API responses from disk:
//
//	<root>/agent.json
//	<root>/conversations.json
//	<root>/conversations/<conversation_id>.json
type Dir struct {
	Root string
}

func NewDir(root string) *Dir { return &Dir{Root: root} }

func (d *Dir) AgentConfig(_ context.Context, _ string) (*nodes.AgentConfig, error) {
	var out nodes.AgentConfig
	if err := d.read("agent.json", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConversations returns the whole listing as a single page.
func (d *Dir) ListConversations(_ context.Context, _, _ string, _ int) (*ConversationPage, error) {
	var out ConversationPage
	if err := d.read("conversations.json", &out); err != nil {
		return nil, err
	}
	out.HasMore = false
	out.NextCursor = ""
	return &out, nil
}

func (d *Dir) Conversation(_ context.Context, conversationID string) (*ConversationDetail, error) {
	var out ConversationDetail
	if err := d.read(filepath.Join("conversations", filepath.Base(conversationID)+".json"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *Dir) read(name string, out any) error {
	p := filepath.Join(d.Root, name)
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return errors.Wrap(ErrNotFound, p)
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", p)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "decode %s", p)
	}
	return nil
}
