package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/convai-tools/latency-pipeline/aggregate"
	"github.com/convai-tools/latency-pipeline/clients"
	cfg "github.com/convai-tools/latency-pipeline/config"
	"github.com/convai-tools/latency-pipeline/nodes"
	"github.com/convai-tools/latency-pipeline/report"
	"github.com/convai-tools/latency-pipeline/transcript"
)

type Pipeline struct {
	cfg      *cfg.Root
	src      Source
	recorder Recorder
	log      *logrus.Entry
	now      func() time.Time
}

func NewPipeline(c *cfg.Root, src Source, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{cfg: c, src: src, log: log, now: time.Now}
}

// WithRecorder makes Run also hand the finished bundle to r.
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	return p
}

// Run analyzes the configured agent and writes the run directory.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	b, err := p.Analyze(ctx)
	if err != nil {
		return nil, err
	}

	res, err := persist(p.cfg.Paths.Outputs, b)
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"raw":     res.RawPath,
		"summary": res.SummaryPath,
	}).Info("run written")

	if p.recorder != nil {
		if err := p.recorder.SaveBundle(ctx, b); err != nil {
			return nil, errors.Wrap(err, "record run")
		}
		p.log.WithField("run_id", b.RunID).Info("run recorded")
	}
	return res, nil
}

// Analyze resolves the agent's node map, selects and fetches conversations,
// extracts turn records in list order and aggregates them. Nothing is written.
func (p *Pipeline) Analyze(ctx context.Context) (*report.Bundle, error) {
	agentID := p.cfg.Agent.ID
	log := p.log.WithField("agent_id", agentID)

	doc, err := p.src.AgentConfig(ctx, agentID)
	if err != nil {
		return nil, errors.Wrapf(err, "agent config %s", agentID)
	}
	var warnings []string
	for _, w := range doc.Warnings() {
		log.WithError(w).Warn("ignoring malformed agent config field")
		warnings = append(warnings, w.Error())
	}
	nodeMap, rootLLM := nodes.Resolve(doc)
	log.WithFields(logrus.Fields{"root_llm": rootLLM, "nodes": len(nodeMap)}).Info("resolved workflow nodes")

	convs, err := p.selectConversations(ctx, agentID)
	if err != nil {
		return nil, err
	}
	log.WithField("conversations", len(convs)).Info("selected conversations")

	details, fetchWarnings, err := p.fetchDetails(ctx, convs)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, fetchWarnings...)

	var (
		records  = []transcript.TurnRecord{}
		analyzed = make([]clients.ConversationSummary, 0, len(convs))
	)
	for i, c := range convs {
		d := details[i]
		if d == nil {
			continue
		}
		clog := log.WithField("conversation_id", c.ConversationID)

		raw, decodeErrs := transcript.DecodeTurns(d.Transcript)
		for _, e := range decodeErrs {
			clog.WithError(e).Warn("malformed transcript entry")
			warnings = append(warnings, "conversation "+c.ConversationID+": "+e.Error())
		}
		recs := transcript.Extract(c.ConversationID, raw, nodeMap, rootLLM)
		clog.WithFields(logrus.Fields{"raw_turns": len(raw), "records": len(recs)}).Info("extracted turns")

		records = append(records, recs...)
		analyzed = append(analyzed, c)
	}

	now := p.now()
	date := p.cfg.Analysis.Date
	if date == "" {
		date = now.Format("2006-01-02")
	}

	return &report.Bundle{
		RunID:                 uuid.NewString(),
		AgentID:               agentID,
		AnalysisDate:          date,
		GeneratedAt:           now,
		RootLLM:               rootLLM,
		MinDurationSecs:       p.cfg.Selection.MinDurationSecs,
		ConversationsAnalyzed: len(analyzed),
		TotalAgentTurns:       len(records),
		NodeLLMMap:            nodeMap,
		Conversations:         analyzed,
		Turns:                 records,
		Summary:               aggregate.Aggregate(records, aggregate.Options{OutlierThresholdMs: p.cfg.Analysis.OutlierThresholdMs}),
		Warnings:              warnings,
	}, nil
}
