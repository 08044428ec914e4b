package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/convai-tools/latency-pipeline/clients"
)

// selectConversations walks the conversation list page by page and keeps the
// calls that lasted at least MinDurationSecs, up to MaxConversations.
func (p *Pipeline) selectConversations(ctx context.Context, agentID string) ([]clients.ConversationSummary, error) {
	sel := p.cfg.Selection
	var (
		out    []clients.ConversationSummary
		cursor string
		seen   = map[string]bool{}
	)
	for page := 1; ; page++ {
		res, err := p.src.ListConversations(ctx, agentID, cursor, sel.PageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "list conversations page %d", page)
		}
		kept := 0
		for _, c := range res.Conversations {
			if c.CallDurationSecs < sel.MinDurationSecs {
				continue
			}
			out = append(out, c)
			kept++
			if len(out) >= sel.MaxConversations {
				break
			}
		}
		p.log.WithFields(logrus.Fields{
			"page":     page,
			"listed":   len(res.Conversations),
			"kept":     kept,
			"selected": len(out),
		}).Debug("conversation page")

		if len(out) >= sel.MaxConversations || !res.HasMore || res.NextCursor == "" {
			break
		}
		if seen[res.NextCursor] {
			p.log.WithField("cursor", res.NextCursor).Warn("conversation list repeated a cursor, stopping")
			break
		}
		seen[res.NextCursor] = true
		cursor = res.NextCursor
	}
	return out, nil
}

// fetchDetails downloads transcripts with at most Fetch.Concurrency requests
// in flight. details[i] belongs to convs[i] and is nil when the fetch failed.
func (p *Pipeline) fetchDetails(ctx context.Context, convs []clients.ConversationSummary) ([]*clients.ConversationDetail, []string, error) {
	details := make([]*clients.ConversationDetail, len(convs))
	failures := make([]error, len(convs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Fetch.Concurrency)
	for i := range convs {
		i := i
		g.Go(func() error {
			d, err := p.src.Conversation(gctx, convs[i].ConversationID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "fetch conversations")
	}

	var warnings []string
	for i, err := range failures {
		if err == nil {
			continue
		}
		p.log.WithError(err).WithField("conversation_id", convs[i].ConversationID).Warn("skipping conversation")
		warnings = append(warnings, "conversation "+convs[i].ConversationID+": "+err.Error())
	}
	return details, warnings, nil
}
